package validation

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"ptxmeta/internal/spreadsheet"
	"ptxmeta/pkg/identifier"
)

// CrossRowCheck verifies the rows against the header and against each other.
type CrossRowCheck struct{}

// Name implements Check.
func (CrossRowCheck) Name() string { return "cross-row" }

type compoundGroup struct {
	name     string
	dose     string
	expected int
	perTP    []int
	perRep   []int
}

// Check implements Check.
func (CrossRowCheck) Check(_ context.Context, wb *spreadsheet.Workbook, report *Report) error {
	g := wb.General
	boxes := make(map[string]bool)
	orders := make(map[int]bool)
	groups := make(map[string]*compoundGroup)
	var order []string
	blanks := 0

	for i, row := range wb.Exposure {
		label := row.Label(i)
		blank := identifier.IsBlank(row.CompoundName)
		control := !blank && identifier.IsControl(row.CompoundName)
		rep := row.Replicate

		switch {
		case blank:
			blanks++
			if rep != nil && g.Blanks != nil && *rep > *g.Blanks {
				report.Addf(label, string(spreadsheet.ColReplicate), "Replicate %d is greater than the number of blanks %d.", *rep, *g.Blanks)
			}
			if row.TimepointHours != nil && *row.TimepointHours != 0 {
				report.Add(label, string(spreadsheet.ColTimepointHours), "Extraction blank timepoint must be 0 hours.")
			}
		case control:
			if dose := strings.TrimSpace(row.DoseCode); dose != "" && dose != identifier.DoseZero {
				report.Addf(label, string(spreadsheet.ColDoseCode), "Dose code %s of a control must be 0.", dose)
			}
			if rep != nil && g.Controls != nil && *rep > *g.Controls {
				report.Addf(label, string(spreadsheet.ColReplicate), "Replicate %d is greater than the number of controls %d.", *rep, *g.Controls)
			}
		default:
			if rep != nil && g.Replicates != nil && *rep > *g.Replicates {
				report.Addf(label, string(spreadsheet.ColReplicate), "Replicate %d is greater than the number of replicates %d.", *rep, *g.Replicates)
			}
		}
		if !blank && row.TimepointHours != nil && len(g.Timepoints) > 0 && !slices.Contains(g.Timepoints, *row.TimepointHours) {
			report.Addf(label, string(spreadsheet.ColTimepointHours), "Timepoint %d hours is not one of the timepoints %s.", *row.TimepointHours, joinInts(g.Timepoints))
		}

		if row.BoxID != "" && row.BoxRow != "" && row.BoxColumn != "" {
			position := row.BoxID + "_" + row.BoxRow + "_" + row.BoxColumn
			if boxes[position] {
				report.Addf(label, string(spreadsheet.ColBoxID), "Box position %s is already used.", position)
			}
			boxes[position] = true
		}
		if row.CollectionOrder != nil {
			if orders[*row.CollectionOrder] {
				report.Addf(label, string(spreadsheet.ColCollectionOrder), "Collection order %d is already used.", *row.CollectionOrder)
			}
			orders[*row.CollectionOrder] = true
		}

		if blank || row.CompoundName == "" || rep == nil || *rep < 1 {
			continue
		}
		expected := g.Replicates
		if control {
			expected = g.Controls
		}
		tp, ok := timepointIndex(row.TimepointLevel, len(g.Timepoints))
		if expected == nil || *expected < 1 || !ok {
			continue
		}
		dose := strings.TrimSpace(row.DoseCode)
		key := fold(row.CompoundName) + "\x00" + dose
		grp, seen := groups[key]
		if !seen {
			grp = &compoundGroup{
				name:     strings.TrimSpace(row.CompoundName),
				dose:     dose,
				expected: *expected,
				perTP:    make([]int, len(g.Timepoints)+1),
				perRep:   make([]int, *expected+1),
			}
			groups[key] = grp
			order = append(order, key)
		}
		grp.perTP[tp]++
		grp.perRep[(*rep-1)%grp.expected+1]++
	}

	if g.Blanks != nil && blanks != *g.Blanks {
		report.Addf(LabelGeneral, string(spreadsheet.ColBlanks), "Expected %d extraction blanks, found %d.", *g.Blanks, blanks)
	}

	doses := make(map[string]int)
	for _, key := range order {
		doses[fold(groups[key].name)]++
	}
	for _, key := range order {
		grp := groups[key]
		label := "Compound " + grp.name
		if doses[fold(grp.name)] > 1 {
			label += " (dose " + grp.dose + ")"
		}
		timepoints := len(grp.perTP) - 1
		for tp := 1; tp <= timepoints; tp++ {
			switch n := grp.perTP[tp]; {
			case n > grp.expected:
				report.Addf(label, string(spreadsheet.ColTimepointLevel), "Timepoint %d has too many replicates.", tp)
			case n < grp.expected:
				report.Addf(label, string(spreadsheet.ColTimepointLevel), "Timepoint %d is missing replicates.", tp)
			}
		}
		for rep := 1; rep <= grp.expected; rep++ {
			switch n := grp.perRep[rep]; {
			case n > timepoints:
				report.Addf(label, string(spreadsheet.ColReplicate), "Replicate %d has too many timepoints.", rep)
			case n < timepoints:
				report.Addf(label, string(spreadsheet.ColReplicate), "Replicate %d is missing timepoints.", rep)
			}
		}
	}
	return nil
}

// timepointIndex returns i for a label TPi with 1 <= i <= n.
func timepointIndex(level string, n int) (int, bool) {
	digits, ok := strings.CutPrefix(strings.TrimSpace(level), "TP")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(digits)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i, true
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func fold(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
