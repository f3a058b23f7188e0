package core

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"ptxmeta/internal/spreadsheet"
	"ptxmeta/internal/validation"
	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

// recordFromWorkbook derives the file record fields held in the workbook.
// Chemicals lists the distinct exposure compounds in sheet order.
func recordFromWorkbook(wb *spreadsheet.Workbook) domain.File {
	g := wb.General
	f := domain.File{
		Organisation: g.PartnerCode,
		Organism:     g.OrganismShortName,
		Batch:        g.ExposureBatch,
		Replicates:   deref(g.Replicates),
		Controls:     deref(g.Controls),
		Blanks:       deref(g.Blanks),
		Vehicle:      g.CompoundVehicle,
		Timepoints:   append([]int(nil), g.Timepoints...),
	}
	if canonical, ok := identifier.CanonicalVehicle(g.CompoundVehicle); ok {
		f.Vehicle = canonical
	}
	if g.StartDate != nil {
		f.StartDate = g.StartDate.UTC()
	}
	if g.EndDate != nil {
		f.EndDate = g.EndDate.UTC()
	}
	seen := make(map[string]bool)
	for _, row := range wb.Exposure {
		name := strings.TrimSpace(row.CompoundName)
		if name == "" || seen[name] {
			continue
		}
		if _, reserved := identifier.ReservedCode(name); reserved {
			continue
		}
		seen[name] = true
		f.Chemicals = append(f.Chemicals, name)
	}
	return f
}

// ensureTimepoints returns the ids of the timepoints of a file, creating the
// missing ones. The timepoint at position i is labelled TPi.
func ensureTimepoints(tx Transaction, hours []int) ([]string, error) {
	ids := make([]string, 0, len(hours))
	for i, h := range hours {
		tp, err := tx.EnsureTimepoint(domain.Timepoint{
			Value: h,
			Unit:  domain.TimepointUnitHours,
			Label: identifier.TimepointLevel(i + 1),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, tp.ID)
	}
	return ids, nil
}

// samplesFromWorkbook freezes every non-empty exposure row into a sample.
func samplesFromWorkbook(fileID string, wb *spreadsheet.Workbook) ([]domain.Sample, error) {
	samples := make([]domain.Sample, 0, len(wb.Exposure))
	for i, row := range wb.Exposure {
		if row.Blank() {
			continue
		}
		if row.Identifier == "" {
			return nil, fmt.Errorf("%w: %s has no identifier", domain.ErrIntegrity, row.Label(i))
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", row.Label(i), err)
		}
		samples = append(samples, domain.Sample{SampleID: row.Identifier, FileID: fileID, Payload: payload})
	}
	return samples, nil
}

// checkImportHeader resolves the partner of an imported workbook and checks
// the header fields a file record is keyed on.
func (s *Service) checkImportHeader(ctx context.Context, g spreadsheet.General) (domain.Organisation, error) {
	var fields []domain.FieldError
	add := func(col spreadsheet.Column, msg string, args ...any) {
		fields = append(fields, domain.FieldError{
			Label: validation.LabelGeneral, Field: string(col), Message: fmt.Sprintf(msg, args...),
		})
	}
	org, err := s.catalog.Organisation(ctx, g.PartnerCode)
	if err != nil {
		add(spreadsheet.ColPartnerCode, "Partner %s is not in the catalog.", g.PartnerCode)
	}
	if _, err := s.catalog.OrganismCode(ctx, g.OrganismShortName); err != nil {
		add(spreadsheet.ColOrganismShortName, "Organism %s is not in the catalog.", g.OrganismShortName)
	}
	if !identifier.ValidBatch(g.ExposureBatch) {
		add(spreadsheet.ColExposureBatch, "Batch %q must be two uppercase letters.", g.ExposureBatch)
	}
	if len(fields) > 0 {
		return domain.Organisation{}, domain.NewInputError(domain.ErrInvalidRequest, fields...)
	}
	return org, nil
}

// importName keeps the base name of an uploaded workbook, falling back to
// the generated naming scheme.
func importName(name string, f domain.File) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || !strings.HasSuffix(strings.ToLower(base), ".xlsx") {
		return fmt.Sprintf("%s_%s_%s.xlsx", f.Organisation, f.Organism, f.Batch)
	}
	return base
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
