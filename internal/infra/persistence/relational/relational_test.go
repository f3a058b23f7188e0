package relational

import (
	"strings"
	"testing"

	"ptxmeta/internal/infra/persistence/memory"
	"ptxmeta/pkg/domain"
)

func TestRebind(t *testing.T) {
	q := `INSERT INTO t(a,b,c) VALUES(?,?,?)`
	if got := Rebind(SQLite, q); got != q {
		t.Fatalf("sqlite should keep placeholders, got %s", got)
	}
	if got := Rebind(Postgres, q); got != `INSERT INTO t(a,b,c) VALUES($1,$2,$3)` {
		t.Fatalf("unexpected rebind %s", got)
	}
}

func TestDDLDeclaresRequiredTables(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		ddl := DDL(d)
		for _, table := range []string{"organism", "chemical", "organisation", "timepoint", "file", "sample", "file_chemical", "file_timepoint"} {
			if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS "+table+" (") {
				t.Fatalf("%s ddl missing table %s", d, table)
			}
		}
		if !strings.Contains(ddl, "VIEW") || !strings.Contains(ddl, "WHERE received_at IS NOT NULL") {
			t.Fatalf("%s ddl missing vehicle view or claimed-batch index", d)
		}
	}
	if stmts := SplitStatements(DDL(SQLite)); len(stmts) < 10 {
		t.Fatalf("expected every statement to split, got %d", len(stmts))
	}
}

func TestBucketsRoundTrip(t *testing.T) {
	in := memory.Snapshot{
		Chemicals: map[string]domain.Chemical{"c1": {CommonName: "DMSO", PTXCode: domain.CodeDMSO}},
		Files:     map[string]domain.File{"f1": {Name: "a.xlsx", Batch: "AA", State: domain.StateDraft}},
	}
	encoded, err := EncodeBuckets(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) != len(Buckets) {
		t.Fatalf("expected %d buckets, got %d", len(Buckets), len(encoded))
	}
	var out memory.Snapshot
	for bucket, payload := range encoded {
		if err := DecodeBucket(&out, bucket, payload); err != nil {
			t.Fatalf("decode %s: %v", bucket, err)
		}
	}
	if out.Chemicals["c1"].PTXCode != domain.CodeDMSO || out.Files["f1"].Batch != "AA" {
		t.Fatalf("unexpected round trip %+v", out)
	}
	if err := DecodeBucket(&out, "files", []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
