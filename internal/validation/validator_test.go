package validation

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"ptxmeta/internal/blob"
	"ptxmeta/internal/catalog"
	"ptxmeta/internal/generator"
	"ptxmeta/internal/infra/persistence/memory"
	"ptxmeta/internal/spreadsheet"
	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

func seededCatalog(t *testing.T) *catalog.Index {
	t.Helper()
	seed, err := catalog.LoadSeedFile(filepath.Join("..", "catalog", "testdata", "seed.yaml"))
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	store := memory.NewStore(nil)
	if err := catalog.Bootstrap(context.Background(), store, seed); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return catalog.Load(context.Background(), store)
}

func generated(t *testing.T, cat catalog.Catalog) *spreadsheet.Workbook {
	t.Helper()
	wb, err := generator.New(cat).Generate(context.Background(), generator.Request{
		Partner:            "UOB",
		Organism:           "Dm",
		ExposureBatch:      "AA",
		ReplicatesExposure: 4,
		ReplicatesControl:  4,
		ReplicatesBlank:    2,
		StartDate:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:            time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		Timepoints:         []int{4, 12, 36},
		Vehicle:            "DMSO",
		Exposure:           []generator.Condition{{Chemicals: []string{"Ethoprophos"}, Dose: identifier.DoseBMD10}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return wb
}

func validate(t *testing.T, cat catalog.Catalog, wb *spreadsheet.Workbook) Report {
	t.Helper()
	report, err := Default(cat).Validate(context.Background(), wb)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return report
}

func hasError(report Report, label, message string) bool {
	for _, e := range report.Errors {
		if e.Label == label && e.Message == message {
			return true
		}
	}
	return false
}

func TestGeneratedWorkbookIsValid(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	data, err := spreadsheet.Marshal(wb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	report, parsed, err := Default(cat).ValidateSource(context.Background(), Bytes(data))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Valid || len(report.Errors) != 0 {
		t.Fatalf("expected valid report, got %+v", report.Errors)
	}
	if parsed == nil || len(parsed.Exposure) != len(wb.Exposure) {
		t.Fatalf("expected parsed workbook")
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.Exposure[3].Replicate = spreadsheet.Int(7)
	first := validate(t, cat, wb)
	second := validate(t, cat, wb)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reports differ:\n%+v\n%+v", first, second)
	}
	if first.Valid {
		t.Fatalf("expected invalid report")
	}
}

func TestReplicateBeyondHeader(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.Exposure[1].Replicate = spreadsheet.Int(9)
	report := validate(t, cat, wb)
	if report.Valid {
		t.Fatalf("expected invalid report")
	}
	if !hasError(report, wb.Exposure[1].Label(1), "Replicate 9 is greater than the number of replicates 4.") {
		t.Fatalf("missing row error in %+v", report.Errors)
	}
	if !hasError(report, "Compound Ethoprophos", "Replicate 1 has too many timepoints.") {
		t.Fatalf("missing compound error in %+v", report.Errors)
	}
	if !hasError(report, "Compound Ethoprophos", "Replicate 2 is missing timepoints.") {
		t.Fatalf("missing compound error in %+v", report.Errors)
	}
}

func fillRow(row *spreadsheet.ExposureRow, box, boxRow, boxColumn string, order int) {
	row.BoxID = box
	row.BoxRow = boxRow
	row.BoxColumn = boxColumn
	row.ExposureRoute = "water"
	row.Operator = "jd"
	row.CollectionOrder = spreadsheet.Int(order)
}

func TestBoxPositionReuse(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	fillRow(&wb.Exposure[0], "Box1", "A", "1", 1)
	fillRow(&wb.Exposure[1], "Box1", "A", "1", 2)
	fillRow(&wb.Exposure[2], "Box1", "A", "2", 2)
	report := validate(t, cat, wb)
	if !hasError(report, wb.Exposure[1].Label(1), "Box position Box1_A_1 is already used.") {
		t.Fatalf("missing box error in %+v", report.Errors)
	}
	if hasError(report, wb.Exposure[0].Label(0), "Box position Box1_A_1 is already used.") {
		t.Fatalf("first use must not be reported")
	}
	if !hasError(report, wb.Exposure[2].Label(2), "Collection order 2 is already used.") {
		t.Fatalf("missing collection order error in %+v", report.Errors)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected two errors, got %+v", report.Errors)
	}
}

func TestOperationalFieldsRequiredOnceFilled(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.Exposure[0].Operator = "jd"
	report := validate(t, cat, wb)
	label := wb.Exposure[0].Label(0)
	var fields []string
	for _, e := range report.Errors {
		if e.Label == label && e.Message == "This field is required." {
			fields = append(fields, e.Field)
		}
	}
	want := []string{"box_id", "box_row", "box_column", "exposure_route", "collection_order"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("expected %v, got %v", want, fields)
	}
}

func TestSchemaErrors(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.Exposure[0].Invalid = map[spreadsheet.Column]string{spreadsheet.ColReplicate: "two"}
	wb.Exposure[0].Replicate = nil
	wb.Exposure[1].DoseCode = "BMD50"
	wb.Exposure[2].TimepointLevel = "TP7"
	wb.Exposure[3].CompoundHash = ""
	report := validate(t, cat, wb)
	checks := []struct {
		row     int
		field   string
		message string
	}{
		{0, "replicate", "Must be an integer."},
		{1, "dose_code", "Must be one of: 0, BMD10, BMD25, 10mg/L."},
		{2, "timepoint_level", `Value "TP7" does not match ^TP[0-5]$.`},
		{3, "compound_hash", "This field is required."},
	}
	for _, c := range checks {
		found := false
		for _, e := range report.Errors {
			if e.Label == wb.Exposure[c.row].Label(c.row) && e.Field == c.field && e.Message == c.message {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing %s error on row %d in %+v", c.field, c.row, report.Errors)
		}
	}
}

func TestControlAndBlankRules(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	control, blank := -1, -1
	for i, row := range wb.Exposure {
		if control < 0 && identifier.IsControl(row.CompoundName) {
			control = i
		}
		if blank < 0 && identifier.IsBlank(row.CompoundName) {
			blank = i
		}
	}
	wb.Exposure[control].DoseCode = identifier.DoseBMD10
	wb.Exposure[control+1].TimepointHours = spreadsheet.Int(99)
	wb.Exposure[blank].TimepointHours = spreadsheet.Int(4)
	report := validate(t, cat, wb)
	if !hasError(report, wb.Exposure[control].Label(control), "Dose code BMD10 of a control must be 0.") {
		t.Fatalf("missing control dose error in %+v", report.Errors)
	}
	if !hasError(report, wb.Exposure[control+1].Label(control+1), "Timepoint 99 hours is not one of the timepoints 4, 12, 36.") {
		t.Fatalf("controls must be bound to header timepoints: %+v", report.Errors)
	}
	if !hasError(report, wb.Exposure[blank].Label(blank), "Extraction blank timepoint must be 0 hours.") {
		t.Fatalf("missing blank error in %+v", report.Errors)
	}
}

func TestBlankCount(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.Exposure = wb.Exposure[:len(wb.Exposure)-1]
	report := validate(t, cat, wb)
	if !hasError(report, LabelGeneral, "Expected 2 extraction blanks, found 1.") {
		t.Fatalf("missing blank count error in %+v", report.Errors)
	}
}

func TestMissingRowsBreakCompleteness(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.Exposure = append(wb.Exposure[:4:4], wb.Exposure[5:]...)
	report := validate(t, cat, wb)
	if !hasError(report, "Compound Ethoprophos", "Timepoint 2 is missing replicates.") {
		t.Fatalf("missing completeness error in %+v", report.Errors)
	}
	if !hasError(report, "Compound Ethoprophos", "Replicate 1 is missing timepoints.") {
		t.Fatalf("missing completeness error in %+v", report.Errors)
	}
}

func TestIdentifierChecks(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.Exposure[1].Identifier = wb.Exposure[0].Identifier
	wb.Exposure[2].Identifier = "FAA012LA"
	wb.Exposure[3].Identifier = "DAA007HA4"
	report := validate(t, cat, wb)
	for _, i := range []int{0, 1} {
		if !hasError(report, wb.Exposure[i].Label(i), "Identifier FAA012LA1 is duplicated.") {
			t.Fatalf("duplicate must be reported on row %d: %+v", i, report.Errors)
		}
	}
	if !hasError(report, wb.Exposure[2].Label(2), "Identifier FAA012LA is malformed.") {
		t.Fatalf("missing malformed error in %+v", report.Errors)
	}
	label := wb.Exposure[3].Label(3)
	for _, msg := range []string{
		"Organism code D does not match Dm (F).",
		"Compound code 007 does not match the compound hash PTX012.",
		"Compound code 007 does not match Ethoprophos (012).",
		"Dose 10mg/L does not match the dose code BMD10.",
	} {
		if !hasError(report, label, msg) {
			t.Fatalf("missing %q in %+v", msg, report.Errors)
		}
	}
}

func TestIdentifierBatchFollowsHeader(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.General.ExposureBatch = "AB"
	report := validate(t, cat, wb)
	if !hasError(report, wb.Exposure[0].Label(0), "Batch AA does not match the exposure batch AB.") {
		t.Fatalf("missing batch error in %+v", report.Errors)
	}
}

func TestHeaderChecks(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.General.ExposureBatch = "a1"
	wb.General.CompoundVehicle = "Ethanol"
	start := *wb.General.EndDate
	end := start.AddDate(0, 0, -1)
	wb.General.StartDate, wb.General.EndDate = &start, &end
	wb.General.Blanks = spreadsheet.Int(3)
	wb.General.OrganismShortName = "Hs"
	report := validate(t, cat, wb)
	for _, msg := range []string{
		`Value "a1" does not match ^[A-Z]{2}$.`,
		"Must be less than or equal to 2.",
		"Vehicle Ethanol must be DMSO or Water.",
		"End date must not be before the start date.",
		"Organism Hs is not in the catalog.",
	} {
		if !hasError(report, LabelGeneral, msg) {
			t.Fatalf("missing %q in %+v", msg, report.Errors)
		}
	}
}

func TestValidateSourceParseFailure(t *testing.T) {
	report, wb, err := Default(seededCatalog(t)).ValidateSource(context.Background(), Bytes("not a workbook"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid || wb != nil || len(report.Errors) != 1 || report.Errors[0].Label != LabelFile {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestBlobSource(t *testing.T) {
	ctx := context.Background()
	cat := seededCatalog(t)
	data, err := spreadsheet.Marshal(generated(t, cat))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	store := blob.NewMemory()
	if _, err := store.Put(ctx, "uob/x/UOB_Dm_AA.xlsx", bytes.NewReader(data), blob.PutOptions{ContentType: spreadsheet.ContentType}); err != nil {
		t.Fatalf("put: %v", err)
	}
	report, _, err := Default(cat).ValidateSource(ctx, BlobSource{Store: store, Key: "uob/x/UOB_Dm_AA.xlsx"})
	if err != nil || !report.Valid {
		t.Fatalf("expected valid blob, got %+v %v", report, err)
	}
	_, _, err = Default(cat).ValidateSource(ctx, BlobSource{Store: store, Key: "missing"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
	if domain.StatusCode(err) != 404 {
		t.Fatalf("expected 404, got %d", domain.StatusCode(err))
	}
}

func TestUnparsedHeaderCellReportedOnce(t *testing.T) {
	cat := seededCatalog(t)
	wb := generated(t, cat)
	wb.General.StartDate = nil
	wb.General.Invalid = map[spreadsheet.Column]string{spreadsheet.ColStartDate: "next monday"}
	report := validate(t, cat, wb)
	var messages []string
	for _, e := range report.Errors {
		if e.Label == LabelGeneral && e.Field == string(spreadsheet.ColStartDate) {
			messages = append(messages, e.Message)
		}
	}
	if !reflect.DeepEqual(messages, []string{"Must be a date formatted YYYY-MM-DD."}) {
		t.Fatalf("unexpected start date errors %v", messages)
	}
}
