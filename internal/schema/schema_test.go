package schema

import (
	"reflect"
	"testing"
)

type item struct {
	Name string `json:"name" validate:"required"`
}

type record struct {
	Batch   string   `json:"batch" validate:"required,batch"`
	Dose    string   `json:"dose" validate:"omitempty,oneof=0 BMD10"`
	Count   int      `json:"count" validate:"required,gte=1"`
	Blanks  *int     `json:"blanks" validate:"omitempty,gte=0,lte=2"`
	Hours   []int    `json:"hours" validate:"min=1,max=2,dive,gte=1"`
	Items   []item   `json:"items" validate:"dive"`
	Level   string   `json:"level" validate:"omitempty,tplevel"`
	Skipped string   `json:"-"`
	Plain   string   `validate:"required"`
	Notes   []string `json:"notes,omitempty"`
}

func intPtr(v int) *int { return &v }

func TestStructMessages(t *testing.T) {
	errs := Struct(record{
		Batch:  "aa",
		Dose:   "BMD50",
		Blanks: intPtr(3),
		Items:  []item{{Name: "ok"}, {}},
		Level:  "TP9",
	})
	got := make(map[string]string, len(errs))
	for _, e := range errs {
		got[e.Path] = e.Message
	}
	want := map[string]string{
		"batch":         `Value "aa" does not match ^[A-Z]{2}$.`,
		"dose":          "Must be one of: 0, BMD10.",
		"count":         MsgRequired,
		"blanks":        "Must be less than or equal to 2.",
		"hours":         "Must contain at least 1 item(s).",
		"items[1].name": MsgRequired,
		"level":         `Value "TP9" does not match ^TP[0-5]$.`,
		"Plain":         MsgRequired,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected errors:\n got  %v\n want %v", got, want)
	}
}

func TestStructRangeAndItems(t *testing.T) {
	errs := Struct(record{Batch: "AA", Count: 0, Hours: []int{1, 0, 3}, Plain: "x"})
	want := []Error{
		{Path: "count", Message: MsgRequired},
		{Path: "hours", Message: "Must contain at most 2 item(s)."},
	}
	if !reflect.DeepEqual(errs, want) {
		t.Fatalf("unexpected errors %v", errs)
	}

	errs = Struct(record{Batch: "AA", Count: 2, Hours: []int{0}, Plain: "x"})
	if len(errs) != 1 || errs[0].Path != "hours[0]" || errs[0].Message != "Must be greater than or equal to 1." {
		t.Fatalf("unexpected item error %v", errs)
	}
}

func TestStructAcceptsValidRecord(t *testing.T) {
	if errs := Struct(record{Batch: "AB", Dose: "0", Count: 1, Blanks: intPtr(0), Hours: []int{4}, Level: "TP0", Plain: "x"}); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestPatternLookup(t *testing.T) {
	re, ok := Pattern("batch")
	if !ok || !re.MatchString("ZZ") {
		t.Fatalf("expected batch pattern")
	}
	if _, ok := Pattern("unknown"); ok {
		t.Fatalf("unexpected pattern")
	}
}
