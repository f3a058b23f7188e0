package core

import (
	"errors"
	"fmt"

	"ptxmeta/pkg/domain"
)

// Rule names referenced when classifying blocked transactions.
const (
	RuleBatchClaim    = "batch_claim"
	RuleFileLifecycle = "file_lifecycle"
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in file policies.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(FileLifecycleRule())
	engine.Register(BatchClaimRule())
	return engine
}

// classify maps rule violations onto the service error taxonomy.
func classify(err error) error {
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		return err
	}
	switch {
	case violation.ViolatedRule(RuleBatchClaim):
		return fmt.Errorf("%w: %v", domain.ErrBatchConflict, violation)
	case violation.ViolatedRule(RuleFileLifecycle):
		return fmt.Errorf("%w: %v", domain.ErrIllegalTransition, violation)
	}
	return err
}
