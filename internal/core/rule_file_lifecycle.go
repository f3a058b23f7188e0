package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	"ptxmeta/pkg/domain"
)

// FileLifecycleRule blocks file changes the lifecycle does not permit: state
// jumps, shipping without validation, receipt without shipping, edits to a
// shipped file other than its receipt, and any edit or removal of a received file.
func FileLifecycleRule() domain.Rule {
	return fileLifecycleRule{}
}

type fileLifecycleRule struct{}

func (fileLifecycleRule) Name() string { return RuleFileLifecycle }

func (r fileLifecycleRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(id, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleFileLifecycle,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   domain.EntityFile,
			EntityID: id,
		})
	}
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityFile:
		case domain.EntitySample:
			if change.Action != domain.ActionCreate {
				continue
			}
			sample, ok := change.After.(domain.Sample)
			if !ok {
				continue
			}
			if f, found := view.FindFile(sample.FileID); !found || !f.Received() {
				block(sample.FileID, "sample %s created for a file that is not received", sample.SampleID)
			}
			continue
		default:
			continue
		}

		before, hasBefore := change.Before.(domain.File)
		after, hasAfter := change.After.(domain.File)

		if hasAfter {
			if !domain.ValidFileState(after.State) {
				block(after.ID, "file %s is set to invalid state %s", after.ID, after.State)
				continue
			}
			if implied := domain.StateFor(after); implied != after.State {
				block(after.ID, "file %s state %s disagrees with its record (%s)", after.ID, after.State, implied)
			}
			if after.ShippedAt != nil && after.Validated != domain.ValidationSuccess {
				block(after.ID, "file %s cannot be shipped before passing validation", after.ID)
			}
			if after.ReceivedAt != nil && after.ShippedAt == nil {
				block(after.ID, "file %s cannot be received before it is shipped", after.ID)
			}
		}

		switch change.Action {
		case domain.ActionCreate:
			if hasAfter && (after.ShippedAt != nil || after.ReceivedAt != nil) {
				block(after.ID, "file %s cannot be created shipped or received", after.ID)
			}
		case domain.ActionUpdate:
			if !hasBefore || !hasAfter {
				continue
			}
			if before.Received() {
				if !sameFile(before, after) {
					block(after.ID, "received file %s is immutable", after.ID)
				}
				continue
			}
			if before.ShippedAt != nil {
				frozen := after
				frozen.ReceivedAt = before.ReceivedAt
				frozen.State = before.State
				if !sameFile(before, frozen) {
					block(after.ID, "shipped file %s can only be received", after.ID)
				}
			}
			if !domain.CanTransition(before.State, after.State) {
				block(after.ID, "file %s cannot move from %s to %s", after.ID, before.State, after.State)
			}
		case domain.ActionDelete:
			if hasBefore && before.Received() {
				block(before.ID, "received file %s cannot be deleted", before.ID)
			}
		}
	}
	return res, nil
}

// sameFile compares the user-visible fields of two file records.
func sameFile(a, b domain.File) bool {
	return a.BlobID == b.BlobID && a.Name == b.Name && a.Organisation == b.Organisation &&
		a.AuthorID == b.AuthorID && a.Organism == b.Organism && a.Batch == b.Batch &&
		a.Replicates == b.Replicates && a.Controls == b.Controls && a.Blanks == b.Blanks &&
		a.Vehicle == b.Vehicle && slices.Equal(a.Chemicals, b.Chemicals) &&
		slices.Equal(a.Timepoints, b.Timepoints) && slices.Equal(a.TimepointIDs, b.TimepointIDs) &&
		a.StartDate.Equal(b.StartDate) && a.EndDate.Equal(b.EndDate) &&
		a.State == b.State && a.Validated == b.Validated &&
		equalTime(a.ShippedAt, b.ShippedAt) && equalTime(a.ReceivedAt, b.ReceivedAt)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
