package spreadsheet

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"ptxmeta/pkg/domain"
)

// ContentType is the MIME type of a marshalled workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var dateLayouts = []string{DateLayout, "2006/01/02", "02/01/2006", "2006-01-02 15:04:05", time.RFC3339}

// ParseError reports a workbook that does not have the expected shape.
type ParseError struct {
	Sheet string
	Line  int
	Msg   string
}

func (e *ParseError) Error() string {
	switch {
	case e.Sheet == "":
		return "parse workbook: " + e.Msg
	case e.Line == 0:
		return fmt.Sprintf("parse workbook: sheet %q: %s", e.Sheet, e.Msg)
	default:
		return fmt.Sprintf("parse workbook: sheet %q line %d: %s", e.Sheet, e.Line, e.Msg)
	}
}

// Is classifies parse failures as input errors.
func (e *ParseError) Is(target error) bool {
	return target == domain.ErrInvalidRequest
}

// Marshal renders wb as xlsx. Each sheet starts with a header row of column names.
func Marshal(wb *Workbook) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName(f.GetSheetName(0), SheetGeneral); err != nil {
		return nil, fmt.Errorf("name general sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetExposure); err != nil {
		return nil, fmt.Errorf("create exposure sheet: %w", err)
	}

	if err := writeRow(f, SheetGeneral, 1, headerCells(GeneralColumns)); err != nil {
		return nil, err
	}
	general := make([]any, len(GeneralColumns))
	for i, col := range GeneralColumns {
		general[i] = cellValue(wb.General.value(col), wb.General.Invalid[col])
	}
	if err := writeRow(f, SheetGeneral, 2, general); err != nil {
		return nil, err
	}

	if err := writeRow(f, SheetExposure, 1, headerCells(ExposureColumns)); err != nil {
		return nil, err
	}
	for i := range wb.Exposure {
		row := &wb.Exposure[i]
		cells := make([]any, len(ExposureColumns))
		for j, col := range ExposureColumns {
			cells[j] = cellValue(row.value(col), row.Invalid[col])
		}
		if err := writeRow(f, SheetExposure, i+2, cells); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses an xlsx document. Empty cells parse as absent values;
// cells that do not parse as their column kind are kept in Invalid.
func Unmarshal(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Msg: fmt.Sprintf("not an xlsx workbook: %v", err)}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || !contains(sheets, SheetGeneral) || !contains(sheets, SheetExposure) {
		return nil, &ParseError{Msg: fmt.Sprintf("expected sheets %q and %q, found %q", SheetGeneral, SheetExposure, sheets)}
	}

	wb := &Workbook{}
	if err := readGeneral(f, &wb.General); err != nil {
		return nil, err
	}
	rows, err := f.GetRows(SheetExposure, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SheetExposure, err)
	}
	if len(rows) == 0 {
		return nil, &ParseError{Sheet: SheetExposure, Msg: "missing header row"}
	}
	if err := checkHeader(SheetExposure, rows[0], ExposureColumns); err != nil {
		return nil, err
	}
	for i, cells := range rows[1:] {
		line := i + 2
		if blankCells(cells) {
			continue
		}
		if err := checkWidth(SheetExposure, line, cells, len(ExposureColumns)); err != nil {
			return nil, err
		}
		row := ExposureRow{Line: line}
		for j, col := range ExposureColumns {
			raw := cellAt(cells, j)
			if err := parseInto(row.target(col), raw); err != nil {
				if row.Invalid == nil {
					row.Invalid = make(map[Column]string)
				}
				row.Invalid[col] = raw
			}
		}
		wb.Exposure = append(wb.Exposure, row)
	}
	return wb, nil
}

func readGeneral(f *excelize.File, g *General) error {
	rows, err := f.GetRows(SheetGeneral, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("read %s: %w", SheetGeneral, err)
	}
	if len(rows) == 0 {
		return &ParseError{Sheet: SheetGeneral, Msg: "missing header row"}
	}
	if err := checkHeader(SheetGeneral, rows[0], GeneralColumns); err != nil {
		return err
	}
	var data [][]string
	for _, cells := range rows[1:] {
		if !blankCells(cells) {
			data = append(data, cells)
		}
	}
	if len(data) != 1 {
		return &ParseError{Sheet: SheetGeneral, Msg: fmt.Sprintf("expected one record, found %d", len(data))}
	}
	if err := checkWidth(SheetGeneral, 2, data[0], len(GeneralColumns)); err != nil {
		return err
	}
	for j, col := range GeneralColumns {
		raw := cellAt(data[0], j)
		if err := parseInto(g.target(col), raw); err != nil {
			if g.Invalid == nil {
				g.Invalid = make(map[Column]string)
			}
			g.Invalid[col] = raw
		}
	}
	return nil
}

func checkHeader(sheet string, cells []string, cols []Column) error {
	for len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
		cells = cells[:len(cells)-1]
	}
	known := make(map[Column]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	for i, cell := range cells {
		name := Column(strings.TrimSpace(cell))
		if !known[name] {
			return &ParseError{Sheet: sheet, Line: 1, Msg: fmt.Sprintf("unknown column %q", cell)}
		}
		if i >= len(cols) || cols[i] != name {
			return &ParseError{Sheet: sheet, Line: 1, Msg: fmt.Sprintf("column %q out of order", name)}
		}
	}
	if len(cells) < len(cols) {
		return &ParseError{Sheet: sheet, Line: 1, Msg: fmt.Sprintf("missing column %q", cols[len(cells)])}
	}
	return nil
}

func checkWidth(sheet string, line int, cells []string, width int) error {
	for i := width; i < len(cells); i++ {
		if strings.TrimSpace(cells[i]) != "" {
			return &ParseError{Sheet: sheet, Line: line, Msg: fmt.Sprintf("value %q outside the known columns", cells[i])}
		}
	}
	return nil
}

var errKind = errors.New("cell does not match column type")

func parseInto(target any, raw string) error {
	raw = strings.TrimSpace(raw)
	switch t := target.(type) {
	case *string:
		*t = raw
	case **int:
		if raw == "" {
			*t = nil
			return nil
		}
		v, err := parseInt(raw)
		if err != nil {
			return err
		}
		*t = &v
	case **float64:
		if raw == "" {
			*t = nil
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errKind
		}
		*t = &v
	case **time.Time:
		if raw == "" {
			*t = nil
			return nil
		}
		v, err := parseDate(raw)
		if err != nil {
			return err
		}
		*t = &v
	case *[]int:
		*t = nil
		if raw == "" {
			return nil
		}
		for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
			v, err := parseInt(strings.TrimSpace(part))
			if err != nil {
				*t = nil
				return err
			}
			*t = append(*t, v)
		}
	}
	return nil
}

func parseInt(raw string) (int, error) {
	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, errKind
	}
	return int(f), nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, errKind
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, errKind
	}
	return t.UTC().Truncate(24 * time.Hour), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *int:
		if t == nil {
			return ""
		}
		return strconv.Itoa(*t)
	case *float64:
		if t == nil {
			return ""
		}
		return strconv.FormatFloat(*t, 'f', -1, 64)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(DateLayout)
	case []int:
		parts := make([]string, len(t))
		for i, n := range t {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	}
	return ""
}

func cellValue(v any, invalid string) any {
	if invalid != "" {
		return invalid
	}
	switch t := v.(type) {
	case *int:
		if t == nil {
			return nil
		}
		return *t
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	case string:
		if t == "" {
			return nil
		}
		return t
	}
	if s := formatValue(v); s != "" {
		return s
	}
	return nil
}

func headerCells(cols []Column) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = string(c)
	}
	return out
}

func writeRow(f *excelize.File, sheet string, line int, cells []any) error {
	ref, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, ref, &cells); err != nil {
		return fmt.Errorf("write %s line %d: %w", sheet, line, err)
	}
	return nil
}

func cellAt(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

func blankCells(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
