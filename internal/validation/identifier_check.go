package validation

import (
	"context"
	"errors"
	"strings"

	"ptxmeta/internal/catalog"
	"ptxmeta/internal/spreadsheet"
	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

// IdentifierCheck decodes each identifier and compares every segment with
// the descriptive columns of its row.
type IdentifierCheck struct {
	Catalog catalog.Catalog
}

// Name implements Check.
func (IdentifierCheck) Name() string { return "identifier" }

// Check implements Check.
func (c IdentifierCheck) Check(ctx context.Context, wb *spreadsheet.Workbook, report *Report) error {
	g := wb.General
	organism, known, err := c.organismCode(ctx, g.OrganismShortName)
	if err != nil {
		return err
	}
	if g.OrganismShortName != "" && !known {
		report.Addf(LabelGeneral, string(spreadsheet.ColOrganismShortName), "Organism %s is not in the catalog.", g.OrganismShortName)
	}

	first := make(map[string]int)
	reported := make(map[int]bool)
	idField := string(spreadsheet.ColIdentifier)
	for i, row := range wb.Exposure {
		label := row.Label(i)
		raw := strings.TrimSpace(row.Identifier)
		if raw == "" {
			continue
		}
		if j, dup := first[raw]; dup {
			if !reported[j] {
				report.Addf(wb.Exposure[j].Label(j), idField, "Identifier %s is duplicated.", raw)
				reported[j] = true
			}
			report.Addf(label, idField, "Identifier %s is duplicated.", raw)
		} else {
			first[raw] = i
		}

		id, err := identifier.Decode(raw)
		if err != nil {
			report.Addf(label, idField, "Identifier %s is malformed.", raw)
			continue
		}
		if known && id.Organism != organism {
			report.Addf(label, idField, "Organism code %s does not match %s (%s).", id.Organism, g.OrganismShortName, organism)
		}
		if id.Batch != g.ExposureBatch {
			report.Addf(label, idField, "Batch %s does not match the exposure batch %s.", id.Batch, g.ExposureBatch)
		}
		if err := c.checkCompound(ctx, id, row, label, report); err != nil {
			return err
		}
		if dose := strings.TrimSpace(row.DoseCode); dose != "" && id.Dose != dose {
			report.Addf(label, idField, "Dose %s does not match the dose code %s.", id.Dose, dose)
		}
		if level := strings.TrimSpace(row.TimepointLevel); level != "" && id.Timepoint != level {
			report.Addf(label, idField, "Timepoint %s does not match the timepoint level %s.", id.Timepoint, level)
		}
		if row.Replicate != nil && id.Replicate != *row.Replicate {
			report.Addf(label, idField, "Replicate %d does not match the replicate %d.", id.Replicate, *row.Replicate)
		}
	}
	return nil
}

func (c IdentifierCheck) checkCompound(ctx context.Context, id identifier.ID, row spreadsheet.ExposureRow, label string, report *Report) error {
	idField := string(spreadsheet.ColIdentifier)
	if row.CompoundHash != "" {
		hash, err := identifier.ParseCompoundHash(row.CompoundHash)
		switch {
		case err != nil:
			report.Addf(label, string(spreadsheet.ColCompoundHash), "Compound hash %s is malformed.", row.CompoundHash)
		case hash != id.Compound:
			report.Addf(label, idField, "Compound code %03d does not match the compound hash %s.", id.Compound, row.CompoundHash)
		}
	}
	name := strings.TrimSpace(row.CompoundName)
	if name == "" {
		return nil
	}
	if code, reserved := identifier.ReservedCode(name); reserved {
		if id.Compound != code {
			report.Addf(label, idField, "Compound code %03d does not match %s (%03d).", id.Compound, name, code)
		}
		return nil
	}
	code, err := c.Catalog.ChemicalCode(ctx, name)
	if errors.Is(err, domain.ErrCatalogNotFound) {
		report.Addf(label, string(spreadsheet.ColCompoundName), "Compound %s is not in the catalog.", name)
		return nil
	}
	if err != nil {
		return err
	}
	if id.Compound != int(code) {
		report.Addf(label, idField, "Compound code %03d does not match %s (%s).", id.Compound, name, code)
	}
	return nil
}

func (c IdentifierCheck) organismCode(ctx context.Context, shortName string) (string, bool, error) {
	if shortName == "" {
		return "", false, nil
	}
	code, err := c.Catalog.OrganismCode(ctx, shortName)
	if errors.Is(err, domain.ErrCatalogNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}
