package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors surfaced by the pipeline. Callers classify with errors.Is.
var (
	ErrFileNotFound        = errors.New("file not found")
	ErrBatchConflict       = errors.New("batch already claimed by a received file")
	ErrIllegalTransition   = errors.New("illegal lifecycle transition")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrValidationRequired  = errors.New("file must pass validation first")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidVehicle      = errors.New("invalid vehicle")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrTimepointOutOfRange = errors.New("timepoint out of range")
	ErrCatalogNotFound     = errors.New("catalog entry not found")
	ErrIntegrity           = errors.New("integrity violation")
	ErrBlobIO              = errors.New("blob transfer failed")
)

// ErrNotFound indicates the requested entity does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is maps missing files onto ErrFileNotFound and catalog entities onto
// ErrCatalogNotFound.
func (e ErrNotFound) Is(target error) bool {
	switch target {
	case ErrFileNotFound:
		return e.Entity == EntityFile
	case ErrCatalogNotFound:
		return e.Entity == EntityOrganism || e.Entity == EntityChemical || e.Entity == EntityOrganisation
	}
	return false
}

// FieldError is one structured input problem.
type FieldError struct {
	Label   string `json:"label"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// InputError carries the accumulated field errors of a user-fixable failure.
type InputError struct {
	Err    error
	Fields []FieldError
}

func (e *InputError) Error() string {
	base := ErrInvalidRequest
	if e.Err != nil {
		base = e.Err
	}
	if len(e.Fields) == 0 {
		return base.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field != "" {
			parts = append(parts, f.Field+": "+f.Message)
			continue
		}
		parts = append(parts, f.Message)
	}
	return base.Error() + ": " + strings.Join(parts, "; ")
}

func (e *InputError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidRequest
	}
	return e.Err
}

// NewInputError wraps fields under the sentinel kind.
func NewInputError(kind error, fields ...FieldError) *InputError {
	return &InputError{Err: kind, Fields: fields}
}

// StatusCode maps an error onto its stable HTTP-style status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrBatchConflict):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrCatalogNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrValidationRequired),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidVehicle),
		errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrTimepointOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrIntegrity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
