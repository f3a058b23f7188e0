// Package validation checks a metadata workbook and reports every problem
// found as a labelled field error. The same Validator serves stored files and
// external blobs; only the caller decides whether the outcome is persisted.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ptxmeta/internal/blob"
	"ptxmeta/internal/catalog"
	"ptxmeta/internal/spreadsheet"
	"ptxmeta/pkg/domain"
)

// Labels for errors not tied to one exposure row.
const (
	LabelFile    = "File"
	LabelGeneral = spreadsheet.SheetGeneral
)

// Report is the outcome of one validation run. Errors keep emission order.
type Report struct {
	Valid  bool                `json:"valid"`
	Errors []domain.FieldError `json:"errors"`
}

// Add appends one error.
func (r *Report) Add(label, field, message string) {
	r.Errors = append(r.Errors, domain.FieldError{Label: label, Field: field, Message: message})
}

// Addf appends one error with a formatted message.
func (r *Report) Addf(label, field, format string, args ...any) {
	r.Add(label, field, fmt.Sprintf(format, args...))
}

// Check is one validation pass over a parsed workbook.
type Check interface {
	Name() string
	Check(ctx context.Context, wb *spreadsheet.Workbook, report *Report) error
}

// Source yields the bytes of a workbook.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

// Bytes is an in-memory Source.
type Bytes []byte

// Load returns b.
func (b Bytes) Load(context.Context) ([]byte, error) { return b, nil }

// BlobSource reads the workbook stored under Key.
type BlobSource struct {
	Store blob.Store
	Key   string
}

// Load downloads the blob.
func (s BlobSource) Load(ctx context.Context) ([]byte, error) {
	_, rc, err := s.Store.Get(ctx, s.Key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, domain.ErrNotFound{Entity: domain.EntityFile, ID: s.Key}
		}
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrBlobIO, s.Key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrBlobIO, s.Key, err)
	}
	return data, nil
}

// Validator runs checks in order.
type Validator struct {
	checks []Check
}

// New composes checks into a Validator.
func New(checks ...Check) *Validator {
	return &Validator{checks: checks}
}

// Default returns the schema, cross-row and identifier checks bound to cat.
func Default(cat catalog.Catalog) *Validator {
	return New(SchemaCheck{}, CrossRowCheck{}, IdentifierCheck{Catalog: cat})
}

// Validate runs every check against wb. A non-nil error means a check could
// not run; problems with the workbook itself are in the report.
func (v *Validator) Validate(ctx context.Context, wb *spreadsheet.Workbook) (Report, error) {
	report := Report{Errors: []domain.FieldError{}}
	for _, c := range v.checks {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if err := c.Check(ctx, wb, &report); err != nil {
			return Report{}, fmt.Errorf("%s check: %w", c.Name(), err)
		}
	}
	report.Valid = len(report.Errors) == 0
	return report, nil
}

// ValidateSource loads, parses and validates a workbook. A workbook that
// cannot be parsed yields a report with a single error labelled File.
func (v *Validator) ValidateSource(ctx context.Context, src Source) (Report, *spreadsheet.Workbook, error) {
	data, err := src.Load(ctx)
	if err != nil {
		return Report{}, nil, err
	}
	wb, err := spreadsheet.Unmarshal(data)
	if err != nil {
		var parseErr *spreadsheet.ParseError
		if errors.As(err, &parseErr) {
			report := Report{}
			report.Add(LabelFile, parseErr.Sheet, parseErr.Error())
			return report, nil, nil
		}
		return Report{}, nil, err
	}
	report, err := v.Validate(ctx, wb)
	if err != nil {
		return Report{}, nil, err
	}
	return report, wb, nil
}
