package spreadsheet

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"ptxmeta/pkg/domain"
)

func sampleWorkbook() *Workbook {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mass := 12.5
	return &Workbook{
		General: General{
			PartnerCode:       "UOB",
			OrganismShortName: "Dm",
			ExposureBatch:     "AA",
			Controls:          Int(4),
			Replicates:        Int(4),
			Blanks:            Int(2),
			StartDate:         &start,
			EndDate:           &end,
			Timepoints:        []int{4, 12, 36},
			CompoundVehicle:   "DMSO",
		},
		Exposure: []ExposureRow{
			{
				Identifier: "FAA012LA1", CompoundHash: "PTX012", Replicate: Int(1),
				CompoundName: "Ethoprophos", DoseCode: "BMD10", TimepointLevel: "TP1", TimepointHours: Int(4),
				BoxID: "Box1", BoxRow: "A", BoxColumn: "1", MassInclTube: &mass, CollectionOrder: Int(1),
				ExposureRoute: "water", Operator: "jb",
			},
			{
				Identifier: "FAA998ZS1", CompoundHash: "PTX998", Replicate: Int(1),
				CompoundName: "EXTRACTION BLANK", DoseCode: "0", TimepointLevel: "TP0", TimepointHours: Int(0),
			},
		},
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	wb := sampleWorkbook()
	data, err := Marshal(wb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got.General, wb.General) {
		t.Fatalf("general mismatch:\n got %+v\nwant %+v", got.General, wb.General)
	}
	if len(got.Exposure) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got.Exposure))
	}
	for i := range wb.Exposure {
		want := wb.Exposure[i]
		want.Line = i + 2
		if !reflect.DeepEqual(got.Exposure[i], want) {
			t.Fatalf("row %d mismatch:\n got %+v\nwant %+v", i, got.Exposure[i], want)
		}
	}
	if got.Exposure[1].TimepointHours == nil || *got.Exposure[1].TimepointHours != 0 {
		t.Fatalf("zero hours must survive as a value")
	}
	if got.Exposure[1].Replicate == nil || got.Exposure[1].MassInclTube != nil {
		t.Fatalf("unexpected optional cells %+v", got.Exposure[1])
	}
}

func TestUnmarshalKeepsInvalidCells(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetSheetName(f.GetSheetName(0), SheetGeneral)
	_, _ = f.NewSheet(SheetExposure)
	general := headerCells(GeneralColumns)
	_ = f.SetSheetRow(SheetGeneral, "A1", &general)
	values := []any{"UOB", "Dm", "AA", "four", 4, 2, "2024-03-01", "45355", "4, 12;36", "DMSO"}
	_ = f.SetSheetRow(SheetGeneral, "A2", &values)
	exposure := headerCells(ExposureColumns)
	_ = f.SetSheetRow(SheetExposure, "A1", &exposure)
	row := make([]any, len(ExposureColumns))
	row[0] = "FAA012LA1"
	row[15] = "1.5"
	row[19] = 4
	_ = f.SetSheetRow(SheetExposure, "A3", &row)
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	wb, err := Unmarshal(buf.Bytes())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wb.General.Controls != nil || wb.General.Invalid[ColControls] != "four" {
		t.Fatalf("expected invalid controls, got %+v", wb.General)
	}
	if !reflect.DeepEqual(wb.General.Timepoints, []int{4, 12, 36}) {
		t.Fatalf("unexpected timepoints %v", wb.General.Timepoints)
	}
	if wb.General.EndDate == nil || wb.General.EndDate.Format(DateLayout) != "2024-03-04" {
		t.Fatalf("expected excel serial date, got %v", wb.General.EndDate)
	}
	if len(wb.Exposure) != 1 || wb.Exposure[0].Line != 3 {
		t.Fatalf("blank rows must be skipped and lines kept: %+v", wb.Exposure)
	}
	if wb.Exposure[0].Invalid[ColReplicate] != "1.5" || wb.Exposure[0].Text(ColReplicate) != "1.5" {
		t.Fatalf("expected invalid replicate, got %+v", wb.Exposure[0].Invalid)
	}
	if wb.Exposure[0].Label(0) != "Record at line 3 (FAA012LA1)" {
		t.Fatalf("unexpected label %q", wb.Exposure[0].Label(0))
	}
}

func TestUnmarshalRejectsShape(t *testing.T) {
	build := func(mutate func(f *excelize.File)) []byte {
		f := excelize.NewFile()
		_ = f.SetSheetName(f.GetSheetName(0), SheetGeneral)
		_, _ = f.NewSheet(SheetExposure)
		general := headerCells(GeneralColumns)
		_ = f.SetSheetRow(SheetGeneral, "A1", &general)
		values := []any{"UOB", "Dm", "AA", 4, 4, 2, "2024-03-01", "2024-03-04", "4", "DMSO"}
		_ = f.SetSheetRow(SheetGeneral, "A2", &values)
		exposure := headerCells(ExposureColumns)
		_ = f.SetSheetRow(SheetExposure, "A1", &exposure)
		mutate(f)
		buf, _ := f.WriteToBuffer()
		return buf.Bytes()
	}
	cases := map[string][]byte{
		"not xlsx": []byte("plain text"),
		"extra sheet": build(func(f *excelize.File) {
			_, _ = f.NewSheet("Notes")
		}),
		"renamed sheet": build(func(f *excelize.File) {
			_ = f.SetSheetName(SheetExposure, "Exposure")
		}),
		"unknown column": build(func(f *excelize.File) {
			_ = f.SetCellValue(SheetExposure, "B1", "colour")
		}),
		"out of order": build(func(f *excelize.File) {
			_ = f.SetCellValue(SheetExposure, "A1", string(ColCompoundHash))
		}),
		"missing column": build(func(f *excelize.File) {
			_ = f.SetCellValue(SheetExposure, "T1", "")
		}),
		"two header records": build(func(f *excelize.File) {
			_ = f.SetCellValue(SheetGeneral, "A3", "UFZ")
		}),
		"value outside header": build(func(f *excelize.File) {
			_ = f.SetCellValue(SheetExposure, "A2", "FAA012LA1")
			_ = f.SetCellValue(SheetExposure, "Z2", "stray")
		}),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(data)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected parse error, got %v", err)
			}
			if !errors.Is(err, domain.ErrInvalidRequest) || domain.StatusCode(err) != 400 {
				t.Fatalf("parse errors are input errors: %v", err)
			}
		})
	}
}

func TestRowPayloadUsesColumnNames(t *testing.T) {
	row := sampleWorkbook().Exposure[0]
	row.Line = 7
	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)
	if len(decoded) != len(ExposureColumns) {
		t.Fatalf("expected %d keys, got %d", len(ExposureColumns), len(decoded))
	}
	for _, col := range ExposureColumns {
		if _, ok := decoded[string(col)]; !ok {
			t.Fatalf("missing key %s", col)
		}
	}
	if strings.Contains(string(data), "Line") {
		t.Fatalf("line must not be part of the payload")
	}
}

func TestCloneIsDeep(t *testing.T) {
	wb := sampleWorkbook()
	cp := wb.Clone()
	*cp.Exposure[0].Replicate = 9
	cp.General.Timepoints[0] = 99
	cp.Exposure[0].Identifier = "X"
	if *wb.Exposure[0].Replicate != 1 || wb.General.Timepoints[0] != 4 || wb.Exposure[0].Identifier != "FAA012LA1" {
		t.Fatalf("clone shares state with original")
	}
	if !(ExposureRow{}).Blank() || wb.Exposure[0].Blank() {
		t.Fatalf("unexpected blank classification")
	}
}
