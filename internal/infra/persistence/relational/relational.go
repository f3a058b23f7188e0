// Package relational maintains the normalized table layout next to the JSON
// state buckets of the durable stores. The layout mirrors the domain model and
// enforces the claimed-batch rule with a partial unique index.
package relational

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ptxmeta/internal/infra/persistence/memory"
)

// Dialect selects placeholder style and DDL flavour.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var (
	//go:embed sql/sqlite.sql
	sqliteDDL string
	//go:embed sql/postgres.sql
	postgresDDL string
)

// Execer is the subset of *sql.DB and *sql.Tx used to run statements.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Buckets lists the JSON state buckets in hydration order.
var Buckets = []string{"organisms", "chemicals", "organisations", "timepoints", "files", "samples"}

// DDL returns the schema script for d.
func DDL(d Dialect) string {
	if d == Postgres {
		return postgresDDL
	}
	return sqliteDDL
}

// SplitStatements splits a schema script on statement terminators.
func SplitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Apply executes the schema script for d.
func Apply(ctx context.Context, db Execer, d Dialect) error {
	for _, stmt := range SplitStatements(DDL(d)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// Rebind rewrites ? placeholders into $n for Postgres.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// EncodeBuckets marshals each bucket of the snapshot.
func EncodeBuckets(snapshot memory.Snapshot) (map[string][]byte, error) {
	values := map[string]any{
		"organisms":     snapshot.Organisms,
		"chemicals":     snapshot.Chemicals,
		"organisations": snapshot.Organisations,
		"timepoints":    snapshot.Timepoints,
		"files":         snapshot.Files,
		"samples":       snapshot.Samples,
	}
	out := make(map[string][]byte, len(values))
	for _, bucket := range Buckets {
		data, err := json.Marshal(values[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals payload into the matching field of snapshot.
func DecodeBucket(snapshot *memory.Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case "organisms":
		target = &snapshot.Organisms
	case "chemicals":
		target = &snapshot.Chemicals
	case "organisations":
		target = &snapshot.Organisations
	case "timepoints":
		target = &snapshot.Timepoints
	case "files":
		target = &snapshot.Files
	case "samples":
		target = &snapshot.Samples
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

// WriteState upserts the encoded buckets whose payload differs from prev.
// A nil prev writes every bucket.
func WriteState(ctx context.Context, tx Execer, d Dialect, prev, buckets map[string][]byte) error {
	query := Rebind(d, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`)
	for _, bucket := range Buckets {
		if old, ok := prev[bucket]; ok && bytes.Equal(old, buckets[bucket]) {
			continue
		}
		if _, err := tx.ExecContext(ctx, query, bucket, buckets[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return nil
}
