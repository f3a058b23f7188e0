package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ptxmeta/pkg/domain"
)

type blockingRule struct{}

func (blockingRule) Name() string { return "block_all_files" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityFile {
			res.Violations = append(res.Violations, domain.Violation{Rule: "block_all_files", Severity: domain.SeverityBlock, Entity: c.Entity})
		}
	}
	return res, nil
}

func seedCatalog(t *testing.T, store *Store) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateOrganism(domain.Organism{Code: "F", ShortName: "Dm", ScientificName: "Drosophila melanogaster"}); err != nil {
			return err
		}
		if _, err := tx.CreateChemical(domain.Chemical{CommonName: "DMSO", PTXCode: domain.CodeDMSO}); err != nil {
			return err
		}
		if _, err := tx.CreateChemical(domain.Chemical{CommonName: "Ethoprophos", PTXCode: 12}); err != nil {
			return err
		}
		_, err := tx.CreateOrganisation(domain.Organisation{ShortName: "UOB", LongName: "University of Birmingham", BlobFolderID: "uob"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestCatalogUniqueness(t *testing.T) {
	store := NewStore(nil)
	seedCatalog(t, store)
	ctx := context.Background()
	cases := map[string]func(domain.Transaction) error{
		"organism code": func(tx domain.Transaction) error {
			_, err := tx.CreateOrganism(domain.Organism{Code: "F", ShortName: "Other"})
			return err
		},
		"organism name": func(tx domain.Transaction) error {
			_, err := tx.CreateOrganism(domain.Organism{Code: "G", ShortName: "Dm"})
			return err
		},
		"organism lowercase code": func(tx domain.Transaction) error {
			_, err := tx.CreateOrganism(domain.Organism{Code: "g", ShortName: "Gm"})
			return err
		},
		"chemical code": func(tx domain.Transaction) error {
			_, err := tx.CreateChemical(domain.Chemical{CommonName: "Other", PTXCode: 12})
			return err
		},
		"chemical name": func(tx domain.Transaction) error {
			_, err := tx.CreateChemical(domain.Chemical{CommonName: "Ethoprophos", PTXCode: 13})
			return err
		},
		"chemical range": func(tx domain.Transaction) error {
			_, err := tx.CreateChemical(domain.Chemical{CommonName: "Huge", PTXCode: 1000})
			return err
		},
		"organisation": func(tx domain.Transaction) error {
			_, err := tx.CreateOrganisation(domain.Organisation{ShortName: "UOB"})
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := store.RunInTransaction(ctx, fn); err == nil {
				t.Fatalf("expected uniqueness error")
			}
		})
	}
	if got := len(store.ListChemicals()); got != 2 {
		t.Fatalf("failed transactions must not commit, got %d chemicals", got)
	}
	chems := store.ListChemicals()
	if chems[0].PTXCode != 12 || chems[1].PTXCode != domain.CodeDMSO {
		t.Fatalf("chemicals should be ordered by code: %+v", chems)
	}
}

func TestFileLifecycleRecordsAndCascade(t *testing.T) {
	store := NewStore(nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	ctx := context.Background()

	var fileID string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		f, err := tx.CreateFile(domain.File{Name: "UOB_Dm_AA.xlsx", Organism: "Dm", Batch: "AA", Chemicals: []string{"Ethoprophos"}})
		fileID = f.ID
		if err != nil {
			return err
		}
		if f.State != domain.StateDraft || f.Validated != domain.ValidationNone {
			t.Fatalf("unexpected defaults %s %s", f.State, f.Validated)
		}
		_, err = tx.CreateSample(domain.Sample{SampleID: "FAA012LA1", FileID: f.ID, Payload: []byte(`{"replicate":1}`)})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok := store.GetFile(fileID)
	if !ok || !got.CreatedAt.Equal(fixed) {
		t.Fatalf("expected stamped file, got %+v", got)
	}
	got.Chemicals[0] = "mutated"
	if again, _ := store.GetFile(fileID); again.Chemicals[0] != "Ethoprophos" {
		t.Fatalf("store must hand out clones")
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSample(domain.Sample{SampleID: "FAA012LA1", FileID: fileID})
		return err
	}); !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected duplicate sample integrity error, got %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteFile(fileID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.ListSamples()) != 0 || len(store.ListFiles()) != 0 {
		t.Fatalf("delete should cascade to samples")
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteFile(fileID)
	}); !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("expected file not found, got %v", err)
	}
}

func TestRulesBlockCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockingRule{})
	store := NewStore(engine)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateFile(domain.File{Name: "blocked", Batch: "AA"})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || !violation.ViolatedRule("block_all_files") {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(store.ListFiles()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

func TestRunInTransactionWithPersistFailure(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("disk full")
	_, err := store.RunInTransactionWith(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateFile(domain.File{Name: "x", Batch: "AA"})
		return err
	}, func(Snapshot) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if len(store.ListFiles()) != 0 {
		t.Fatalf("state must not be published when persistence fails")
	}
}

func TestCancelledContextRollsBack(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		cancel()
		_, err := tx.CreateFile(domain.File{Name: "x", Batch: "AA"})
		return err
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(store.ListFiles()) != 0 {
		t.Fatalf("cancelled transaction must not commit")
	}
}

func TestEnsureTimepointIsIdempotent(t *testing.T) {
	store := NewStore(nil)
	var first, second domain.Timepoint
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		if first, err = tx.EnsureTimepoint(domain.Timepoint{Value: 4, Label: "TP1"}); err != nil {
			return err
		}
		second, err = tx.EnsureTimepoint(domain.Timepoint{Value: 4, Unit: domain.TimepointUnitHours, Label: "TP1"})
		return err
	}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.ID != second.ID || first.Unit != domain.TimepointUnitHours {
		t.Fatalf("expected reuse, got %+v %+v", first, second)
	}
}

func TestImportStateMigratesLegacyFiles(t *testing.T) {
	store := NewStore(nil)
	shipped := time.Now()
	store.ImportState(Snapshot{Files: map[string]File{
		"a": {Base: domain.Base{ID: "a"}, Validated: domain.ValidationSuccess, ShippedAt: &shipped},
		"b": {Base: domain.Base{ID: "b"}},
	}})
	a, _ := store.GetFile("a")
	b, _ := store.GetFile("b")
	if a.State != domain.StateShipped || b.State != domain.StateDraft || b.Validated != domain.ValidationNone {
		t.Fatalf("unexpected migrated states %s %s %s", a.State, b.State, b.Validated)
	}
	if len(store.ListOrganisms()) != 0 {
		t.Fatalf("missing buckets should import empty")
	}
	exported := store.ExportState()
	if len(exported.Files) != 2 || exported.Chemicals == nil {
		t.Fatalf("unexpected export %+v", exported)
	}
}
