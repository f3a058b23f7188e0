package domain

import "fmt"

// FileState is the lifecycle position of a file. Received is terminal.
type FileState string

// Canonical file states.
const (
	StateDraft     FileState = "draft"
	StateFailed    FileState = "failed"
	StateValidated FileState = "validated"
	StateShipped   FileState = "shipped"
	StateReceived  FileState = "received"
)

// FileEvent names a lifecycle transition trigger.
type FileEvent string

// Lifecycle events. EventValidationPassed and EventValidationFailed are the two
// outcomes of the validate operation.
const (
	EventValidationPassed FileEvent = "validate_passed"
	EventValidationFailed FileEvent = "validate_failed"
	EventShip             FileEvent = "ship"
	EventReceive          FileEvent = "receive"
	EventRenameBatch      FileEvent = "rename_batch"
)

var fileTransitions = map[FileState]map[FileEvent]FileState{
	StateDraft: {
		EventValidationPassed: StateValidated,
		EventValidationFailed: StateFailed,
		EventRenameBatch:      StateDraft,
	},
	StateFailed: {
		EventValidationPassed: StateValidated,
		EventValidationFailed: StateFailed,
		EventRenameBatch:      StateDraft,
	},
	StateValidated: {
		EventValidationPassed: StateValidated,
		EventValidationFailed: StateFailed,
		EventShip:             StateShipped,
		EventRenameBatch:      StateDraft,
	},
	StateShipped: {
		EventReceive: StateReceived,
	},
	StateReceived: {},
}

// ValidFileState reports whether s is one of the canonical states.
func ValidFileState(s FileState) bool {
	_, ok := fileTransitions[s]
	return ok
}

// Terminal reports whether no event leaves the state.
func (s FileState) Terminal() bool {
	return s == StateReceived
}

// NextState applies event to from. It returns ErrIllegalTransition, or
// ErrValidationRequired when shipping a file that has not passed validation.
func NextState(from FileState, event FileEvent) (FileState, error) {
	events, ok := fileTransitions[from]
	if !ok {
		return "", fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, from)
	}
	if to, ok := events[event]; ok {
		return to, nil
	}
	if event == EventShip && (from == StateDraft || from == StateFailed) {
		return "", fmt.Errorf("%w: file is %s", ErrValidationRequired, from)
	}
	return "", fmt.Errorf("%w: cannot %s a %s file", ErrIllegalTransition, event, from)
}

// CanTransition reports whether the state machine permits from -> to through
// any single event. Staying in place is always permitted for non-terminal states.
func CanTransition(from, to FileState) bool {
	if from == to {
		return ValidFileState(from) && !from.Terminal()
	}
	for _, next := range fileTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateFor derives the state implied by the legacy lifecycle columns.
func StateFor(f File) FileState {
	switch {
	case f.ReceivedAt != nil:
		return StateReceived
	case f.ShippedAt != nil:
		return StateShipped
	case f.Validated == ValidationSuccess:
		return StateValidated
	case f.Validated == ValidationFailed:
		return StateFailed
	default:
		return StateDraft
	}
}
