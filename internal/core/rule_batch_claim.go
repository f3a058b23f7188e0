package core

import (
	"context"
	"fmt"

	"ptxmeta/pkg/domain"
)

// BatchClaimRule keeps (organism, batch) unique across received files.
func BatchClaimRule() domain.Rule {
	return batchClaimRule{}
}

type batchClaimRule struct{}

func (batchClaimRule) Name() string { return RuleBatchClaim }

func (batchClaimRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[string]bool)
	for _, change := range changes {
		if change.Entity != domain.EntityFile {
			continue
		}
		after, ok := change.After.(domain.File)
		if !ok || !after.Received() || checked[after.ID] {
			continue
		}
		checked[after.ID] = true
		if holder, claimed := claimant(view.ListFiles(), after.Organism, after.Batch, after.ID); claimed {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleBatchClaim,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("batch %s of organism %s is already claimed by file %s", after.Batch, after.Organism, holder.ID),
				Entity:   domain.EntityFile,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

// claimant returns a received file other than exclude that holds (organism, batch).
func claimant(files []domain.File, organism, batch, exclude string) (domain.File, bool) {
	for _, f := range files {
		if f.ID != exclude && f.Received() && f.Organism == organism && f.Batch == batch {
			return f, true
		}
	}
	return domain.File{}, false
}
