package relational

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"testing"

	"ptxmeta/internal/infra/persistence/memory"
	"ptxmeta/pkg/domain"
)

type recordingExec struct {
	queries []string
}

func (r *recordingExec) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.queries = append(r.queries, query)
	return driver.RowsAffected(1), nil
}

func baseSnapshot() memory.Snapshot {
	return memory.Snapshot{
		Organisms: map[string]domain.Organism{"o1": {Code: "F", ShortName: "Dm"}},
		Chemicals: map[string]domain.Chemical{"c1": {CommonName: "DMSO", PTXCode: domain.CodeDMSO}},
		Files: map[string]domain.File{
			"f1": {Name: "a.xlsx", Organism: "Dm", Batch: "AA", State: domain.StateDraft},
			"f2": {Name: "b.xlsx", Organism: "Dm", Batch: "AB", State: domain.StateDraft},
		},
		Samples: map[string]domain.Sample{"s1": {SampleID: "FAA000LA1", FileID: "f1"}},
	}
}

func TestSyncTouchesOnlyChangedRows(t *testing.T) {
	prev := baseSnapshot()
	next := baseSnapshot()
	f2 := next.Files["f2"]
	f2.State = domain.StateValidated
	next.Files["f2"] = f2
	next.Files["f3"] = domain.File{Name: "c.xlsx", Organism: "Dm", Batch: "AC", State: domain.StateDraft}
	delete(next.Files, "f1")
	delete(next.Samples, "s1")

	exec := &recordingExec{}
	if err := Sync(context.Background(), exec, SQLite, prev, next); err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := []string{
		"DELETE FROM sample WHERE id = ?",
		"DELETE FROM file_chemical WHERE file_id = ?",
		"DELETE FROM file_chemical WHERE file_id = ?",
		"DELETE FROM file_timepoint WHERE file_id = ?",
		"DELETE FROM file_timepoint WHERE file_id = ?",
		"DELETE FROM file WHERE id = ?",
		"UPDATE file SET",
		"INSERT INTO file(",
	}
	if len(exec.queries) != len(want) {
		t.Fatalf("expected %d statements, got %d: %v", len(want), len(exec.queries), exec.queries)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(exec.queries[i], prefix) {
			t.Fatalf("statement %d: expected %q, got %q", i, prefix, exec.queries[i])
		}
	}
}

func TestSyncFromEmptyInsertsEverything(t *testing.T) {
	exec := &recordingExec{}
	if err := Sync(context.Background(), exec, Postgres, memory.Snapshot{}, baseSnapshot()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(exec.queries) != 5 {
		t.Fatalf("expected one insert per entity, got %v", exec.queries)
	}
	for _, q := range exec.queries {
		if !strings.HasPrefix(q, "INSERT INTO ") || strings.Contains(q, "?") {
			t.Fatalf("unexpected statement %q", q)
		}
	}
}

func TestMirrorWritesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	m, err := NewMirror(SQLite, baseSnapshot())
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	exec := &recordingExec{}
	advance, err := m.Write(ctx, exec, baseSnapshot())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	advance()
	if len(exec.queries) != 0 {
		t.Fatalf("unchanged snapshot must write nothing, got %v", exec.queries)
	}

	next := baseSnapshot()
	f1 := next.Files["f1"]
	f1.Batch = "AZ"
	next.Files["f1"] = f1
	if _, err := m.Write(ctx, exec, next); err != nil {
		t.Fatalf("write: %v", err)
	}
	var upserts, updates int
	for _, q := range exec.queries {
		switch {
		case strings.HasPrefix(q, "INSERT INTO state"):
			upserts++
		case strings.HasPrefix(q, "UPDATE file SET"):
			updates++
		}
	}
	if upserts != 1 || updates != 1 {
		t.Fatalf("expected the files bucket and one file row, got %v", exec.queries)
	}

	exec.queries = nil
	if _, err := m.Write(ctx, exec, next); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(exec.queries) == 0 {
		t.Fatalf("a write that was never advanced must be staged again")
	}
}
