package domain

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestNextState(t *testing.T) {
	cases := []struct {
		name    string
		from    FileState
		event   FileEvent
		want    FileState
		wantErr error
	}{
		{"draft passes", StateDraft, EventValidationPassed, StateValidated, nil},
		{"draft fails", StateDraft, EventValidationFailed, StateFailed, nil},
		{"failed revalidated", StateFailed, EventValidationPassed, StateValidated, nil},
		{"validated regresses", StateValidated, EventValidationFailed, StateFailed, nil},
		{"ship validated", StateValidated, EventShip, StateShipped, nil},
		{"receive shipped", StateShipped, EventReceive, StateReceived, nil},
		{"rename resets", StateValidated, EventRenameBatch, StateDraft, nil},
		{"ship draft", StateDraft, EventShip, "", ErrValidationRequired},
		{"ship failed", StateFailed, EventShip, "", ErrValidationRequired},
		{"ship twice", StateShipped, EventShip, "", ErrIllegalTransition},
		{"receive draft", StateDraft, EventReceive, "", ErrIllegalTransition},
		{"receive twice", StateReceived, EventReceive, "", ErrIllegalTransition},
		{"rename shipped", StateShipped, EventRenameBatch, "", ErrIllegalTransition},
		{"validate received", StateReceived, EventValidationPassed, "", ErrIllegalTransition},
		{"unknown state", FileState("lost"), EventShip, "", ErrIllegalTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextState(tc.from, tc.event)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StateShipped, StateReceived) {
		t.Fatalf("shipped -> received should be allowed")
	}
	if CanTransition(StateReceived, StateReceived) {
		t.Fatalf("received is terminal")
	}
	if CanTransition(StateDraft, StateShipped) {
		t.Fatalf("draft cannot jump to shipped")
	}
	if !CanTransition(StateFailed, StateFailed) {
		t.Fatalf("staying failed should be allowed")
	}
}

func TestStateFor(t *testing.T) {
	now := time.Now()
	cases := []struct {
		file File
		want FileState
	}{
		{File{}, StateDraft},
		{File{Validated: ValidationFailed}, StateFailed},
		{File{Validated: ValidationSuccess}, StateValidated},
		{File{Validated: ValidationSuccess, ShippedAt: &now}, StateShipped},
		{File{Validated: ValidationSuccess, ShippedAt: &now, ReceivedAt: &now}, StateReceived},
	}
	for _, tc := range cases {
		if got := StateFor(tc.file); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrBatchConflict, http.StatusPreconditionFailed},
		{ErrPermissionDenied, http.StatusForbidden},
		{ErrIllegalTransition, http.StatusBadRequest},
		{ErrValidationRequired, http.StatusBadRequest},
		{ErrNotFound{Entity: EntityFile, ID: "x"}, http.StatusNotFound},
		{ErrNotFound{Entity: EntityChemical, ID: "x"}, http.StatusNotFound},
		{NewInputError(ErrInvalidVehicle, FieldError{Field: "vehicle", Message: "bad"}), http.StatusBadRequest},
		{ErrIntegrity, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusCode(tc.err); got != tc.want {
			t.Fatalf("StatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInputErrorMessage(t *testing.T) {
	err := NewInputError(nil, FieldError{Field: "batch", Message: "must match ^[A-Z]{2}$"}, FieldError{Message: "no exposure"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request kind")
	}
	want := "invalid request: batch: must match ^[A-Z]{2}$; no exposure"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRuleViolationErrorNamesRule(t *testing.T) {
	err := RuleViolationError{Result: Result{Violations: []Violation{
		{Rule: "audit", Severity: SeverityWarn, Message: "noted"},
		{Rule: "batch_claim", Severity: SeverityBlock, Message: "batch AA already claimed"},
	}}}
	if !err.ViolatedRule("batch_claim") || err.ViolatedRule("audit") {
		t.Fatalf("unexpected rule attribution")
	}
	if err.Error() != "transaction blocked by rules: batch AA already claimed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
