package validation

import (
	"context"

	"ptxmeta/internal/schema"
	"ptxmeta/internal/spreadsheet"
	"ptxmeta/pkg/identifier"
)

// SchemaCheck applies the validate tags of the header and row records and
// reports cells whose text did not parse as their type.
type SchemaCheck struct{}

// Name implements Check.
func (SchemaCheck) Name() string { return "schema" }

// Check implements Check.
func (SchemaCheck) Check(_ context.Context, wb *spreadsheet.Workbook, report *Report) error {
	checkHeader(wb.General, report)
	for i, row := range wb.Exposure {
		label := row.Label(i)
		addSchemaErrors(report, label, schema.Struct(row), row.Invalid)
	}
	return nil
}

func checkHeader(g spreadsheet.General, report *Report) {
	addSchemaErrors(report, LabelGeneral, schema.Struct(g), g.Invalid)
	if _, invalid := g.Invalid[spreadsheet.ColTimepoints]; !invalid {
		seen := make(map[int]bool, len(g.Timepoints))
		for _, tp := range g.Timepoints {
			if seen[tp] {
				report.Addf(LabelGeneral, string(spreadsheet.ColTimepoints), "Timepoint %d is listed twice.", tp)
			}
			seen[tp] = true
		}
	}
	if g.CompoundVehicle != "" {
		if _, ok := identifier.CanonicalVehicle(g.CompoundVehicle); !ok {
			report.Addf(LabelGeneral, string(spreadsheet.ColCompoundVehicle), "Vehicle %s must be %s or %s.",
				g.CompoundVehicle, identifier.VehicleDMSO, identifier.VehicleWater)
		}
	}
	if g.StartDate != nil && g.EndDate != nil && g.EndDate.Before(*g.StartDate) {
		report.Add(LabelGeneral, string(spreadsheet.ColEndDate), "End date must not be before the start date.")
	}
}

// addSchemaErrors reports unparsed cells as type errors and tag failures for
// every other column. A cell that did not parse is reported once.
func addSchemaErrors(report *Report, label string, errs []schema.Error, invalid map[spreadsheet.Column]string) {
	for _, e := range errs {
		if _, bad := invalid[spreadsheet.Column(e.Path)]; bad {
			continue
		}
		report.Add(label, e.Path, e.Message)
	}
	for _, col := range columnsOf(invalid) {
		report.Add(label, string(col), typeMessage(spreadsheet.KindOf(col)))
	}
}

func columnsOf(invalid map[spreadsheet.Column]string) []spreadsheet.Column {
	var out []spreadsheet.Column
	for _, cols := range [][]spreadsheet.Column{spreadsheet.GeneralColumns, spreadsheet.ExposureColumns} {
		for _, col := range cols {
			if _, ok := invalid[col]; ok {
				out = append(out, col)
			}
		}
	}
	return out
}

func typeMessage(k spreadsheet.Kind) string {
	switch k {
	case spreadsheet.KindInt:
		return schema.MsgInteger
	case spreadsheet.KindFloat:
		return schema.MsgNumber
	case spreadsheet.KindDate:
		return schema.MsgDate
	case spreadsheet.KindIntList:
		return schema.MsgIntList
	}
	return schema.MsgString
}
