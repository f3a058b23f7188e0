package generator

import (
	"context"
	"fmt"

	"ptxmeta/internal/catalog"
	"ptxmeta/internal/spreadsheet"
	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

// Generator builds workbooks from requests.
type Generator struct {
	catalog catalog.Catalog
}

// New returns a Generator resolving codes through cat.
func New(cat catalog.Catalog) *Generator {
	return &Generator{catalog: cat}
}

// Generate validates req and expands it into a workbook. Rows are emitted in
// a stable order: exposure blocks, then controls, then blanks.
func (g *Generator) Generate(ctx context.Context, req Request) (*spreadsheet.Workbook, error) {
	req, err := check(req)
	if err != nil {
		return nil, err
	}
	if _, err := g.catalog.Organisation(ctx, req.Partner); err != nil {
		return nil, fmt.Errorf("resolve partner: %w", err)
	}
	organism, err := g.catalog.OrganismCode(ctx, req.Organism)
	if err != nil {
		return nil, fmt.Errorf("resolve organism: %w", err)
	}
	codes, err := g.catalog.ChemicalCodes(ctx, req.Chemicals())
	if err != nil {
		return nil, fmt.Errorf("resolve chemicals: %w", err)
	}
	controlCode, _ := identifier.VehicleCode(req.Vehicle)
	controlName, _ := identifier.ControlName(req.Vehicle)

	wb := &spreadsheet.Workbook{General: header(req)}
	emit := func(name string, code int, dose, level string, hours, replicate int) error {
		id, err := identifier.Encode(identifier.ID{
			Organism:  organism,
			Batch:     req.ExposureBatch,
			Compound:  code,
			Dose:      dose,
			Timepoint: level,
			Replicate: replicate,
		})
		if err != nil {
			return err
		}
		wb.Exposure = append(wb.Exposure, spreadsheet.ExposureRow{
			Identifier:     id,
			CompoundHash:   identifier.CompoundHash(code),
			Replicate:      spreadsheet.Int(replicate),
			CompoundName:   name,
			DoseCode:       dose,
			TimepointLevel: level,
			TimepointHours: spreadsheet.Int(hours),
			Line:           len(wb.Exposure) + 2,
		})
		return nil
	}

	for _, cond := range req.Exposure {
		for _, name := range cond.Chemicals {
			for i, hours := range req.Timepoints {
				for rep := 1; rep <= req.ReplicatesExposure; rep++ {
					if err := emit(name, int(codes[name]), cond.Dose, identifier.TimepointLevel(i+1), hours, rep); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	for i, hours := range req.Timepoints {
		for rep := 1; rep <= req.ReplicatesControl; rep++ {
			if err := emit(controlName, controlCode, identifier.DoseZero, identifier.TimepointLevel(i+1), hours, rep); err != nil {
				return nil, err
			}
		}
	}
	for rep := 1; rep <= req.ReplicatesBlank; rep++ {
		if err := emit(identifier.NameExtractionBlank, domain.CodeBlank, identifier.DoseZero, identifier.TimepointLevel(0), 0, rep); err != nil {
			return nil, err
		}
	}
	return wb, nil
}

func header(req Request) spreadsheet.General {
	start, end := req.StartDate, req.EndDate
	return spreadsheet.General{
		PartnerCode:       req.Partner,
		OrganismShortName: req.Organism,
		ExposureBatch:     req.ExposureBatch,
		Controls:          spreadsheet.Int(req.ReplicatesControl),
		Replicates:        spreadsheet.Int(req.ReplicatesExposure),
		Blanks:            spreadsheet.Int(req.ReplicatesBlank),
		StartDate:         &start,
		EndDate:           &end,
		Timepoints:        append([]int(nil), req.Timepoints...),
		CompoundVehicle:   req.Vehicle,
	}
}
