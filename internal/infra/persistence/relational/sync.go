package relational

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"ptxmeta/internal/infra/persistence/memory"
)

// Mirror remembers what a durable store last committed so that each commit
// writes only the buckets and rows that changed. Calls must be serialized;
// the memory store persists under its write lock.
type Mirror struct {
	dialect Dialect
	buckets map[string][]byte
	rows    memory.Snapshot
}

// NewMirror starts from the committed snapshot.
func NewMirror(d Dialect, committed memory.Snapshot) (*Mirror, error) {
	buckets, err := EncodeBuckets(committed)
	if err != nil {
		return nil, err
	}
	return &Mirror{dialect: d, buckets: buckets, rows: committed}, nil
}

// Write stages next inside tx. The returned function records next as
// committed and must be called only after tx commits.
func (m *Mirror) Write(ctx context.Context, tx Execer, next memory.Snapshot) (func(), error) {
	buckets, err := EncodeBuckets(next)
	if err != nil {
		return nil, err
	}
	if err := WriteState(ctx, tx, m.dialect, m.buckets, buckets); err != nil {
		return nil, err
	}
	if err := Sync(ctx, tx, m.dialect, m.rows, next); err != nil {
		return nil, err
	}
	return func() {
		m.buckets = buckets
		m.rows = next
	}, nil
}

var tables = []string{"sample", "file_timepoint", "file_chemical", "file", "timepoint", "organisation", "chemical", "organism"}

// Rebuild clears the normalized tables and fills them from snapshot in one
// transaction. Stores run it once when they open.
func Rebuild(ctx context.Context, db *sql.DB, d Dialect, snapshot memory.Snapshot) (retErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := Sync(ctx, tx, d, memory.Snapshot{}, snapshot); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

// delta splits the keys of two entity maps. Keys come back sorted.
type delta struct {
	removed, changed, added []string
}

func diff[V any](prev, next map[string]V) delta {
	var d delta
	for _, id := range slices.Sorted(maps.Keys(prev)) {
		if _, ok := next[id]; !ok {
			d.removed = append(d.removed, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(next)) {
		old, ok := prev[id]
		switch {
		case !ok:
			d.added = append(d.added, id)
		case !reflect.DeepEqual(old, next[id]):
			d.changed = append(d.changed, id)
		}
	}
	return d
}

// Sync moves the normalized tables from prev to next. Rows of unchanged
// entities are not touched; deletes run children first and writes parents
// first so foreign keys hold after every statement.
func Sync(ctx context.Context, tx Execer, d Dialect, prev, next memory.Snapshot) error {
	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, Rebind(d, query), args...)
		return err
	}
	remove := func(table, column string, ids []string) error {
		for _, id := range ids {
			if err := exec(`DELETE FROM `+table+` WHERE `+column+` = ?`, id); err != nil {
				return fmt.Errorf("delete %s %s: %w", table, id, err)
			}
		}
		return nil
	}

	samples := diff(prev.Samples, next.Samples)
	files := diff(prev.Files, next.Files)
	timepoints := diff(prev.Timepoints, next.Timepoints)
	organisations := diff(prev.Organisations, next.Organisations)
	chemicals := diff(prev.Chemicals, next.Chemicals)
	organisms := diff(prev.Organisms, next.Organisms)

	relinked := slices.Concat(files.removed, files.changed)
	for _, step := range []struct {
		table, column string
		ids           []string
	}{
		{"sample", "id", slices.Concat(samples.removed, samples.changed)},
		{"file_chemical", "file_id", relinked},
		{"file_timepoint", "file_id", relinked},
		{"file", "id", files.removed},
		{"timepoint", "id", timepoints.removed},
		{"organisation", "id", organisations.removed},
		{"chemical", "id", chemicals.removed},
		{"organism", "id", organisms.removed},
	} {
		if err := remove(step.table, step.column, step.ids); err != nil {
			return err
		}
	}

	for _, id := range organisms.changed {
		o := next.Organisms[id]
		if err := exec(`UPDATE organism SET code=?,short_name=?,scientific_name=? WHERE id=?`, o.Code, o.ShortName, o.ScientificName, id); err != nil {
			return fmt.Errorf("update organism %s: %w", o.ShortName, err)
		}
	}
	for _, id := range organisms.added {
		o := next.Organisms[id]
		if err := exec(`INSERT INTO organism(id,code,short_name,scientific_name) VALUES(?,?,?,?)`, id, o.Code, o.ShortName, o.ScientificName); err != nil {
			return fmt.Errorf("insert organism %s: %w", o.ShortName, err)
		}
	}
	for _, id := range chemicals.changed {
		c := next.Chemicals[id]
		if err := exec(`UPDATE chemical SET common_name=?,ptx_code=?,formula=?,cas=? WHERE id=?`, c.CommonName, c.PTXCode, c.Formula, c.CAS, id); err != nil {
			return fmt.Errorf("update chemical %s: %w", c.CommonName, err)
		}
	}
	for _, id := range chemicals.added {
		c := next.Chemicals[id]
		if err := exec(`INSERT INTO chemical(id,common_name,ptx_code,formula,cas) VALUES(?,?,?,?,?)`, id, c.CommonName, c.PTXCode, c.Formula, c.CAS); err != nil {
			return fmt.Errorf("insert chemical %s: %w", c.CommonName, err)
		}
	}
	for _, id := range organisations.changed {
		o := next.Organisations[id]
		if err := exec(`UPDATE organisation SET short_name=?,long_name=?,blob_folder_id=? WHERE id=?`, o.ShortName, o.LongName, o.BlobFolderID, id); err != nil {
			return fmt.Errorf("update organisation %s: %w", o.ShortName, err)
		}
	}
	for _, id := range organisations.added {
		o := next.Organisations[id]
		if err := exec(`INSERT INTO organisation(id,short_name,long_name,blob_folder_id) VALUES(?,?,?,?)`, id, o.ShortName, o.LongName, o.BlobFolderID); err != nil {
			return fmt.Errorf("insert organisation %s: %w", o.ShortName, err)
		}
	}
	for _, id := range timepoints.changed {
		t := next.Timepoints[id]
		if err := exec(`UPDATE timepoint SET value=?,unit=?,label=? WHERE id=?`, t.Value, t.Unit, t.Label, id); err != nil {
			return fmt.Errorf("update timepoint %s: %w", t.Label, err)
		}
	}
	for _, id := range timepoints.added {
		t := next.Timepoints[id]
		if err := exec(`INSERT INTO timepoint(id,value,unit,label) VALUES(?,?,?,?)`, id, t.Value, t.Unit, t.Label); err != nil {
			return fmt.Errorf("insert timepoint %s: %w", t.Label, err)
		}
	}

	organismIDs := make(map[string]string, len(next.Organisms))
	for id, o := range next.Organisms {
		organismIDs[o.ShortName] = id
	}
	chemicalIDs := make(map[string]string, len(next.Chemicals))
	for id, c := range next.Chemicals {
		chemicalIDs[c.CommonName] = id
	}
	organisationIDs := make(map[string]string, len(next.Organisations))
	for id, o := range next.Organisations {
		organisationIDs[o.ShortName] = id
	}
	fileArgs := func(id string) []any {
		f := next.Files[id]
		return []any{f.BlobID, f.Name, nullable(organisationIDs[f.Organisation]), f.AuthorID, nullable(organismIDs[f.Organism]), f.Batch,
			f.Replicates, f.Controls, f.Blanks, nullable(vehicleID(chemicalIDs, next, f.Vehicle)), f.StartDate, f.EndDate,
			string(f.State), string(f.Validated), f.ShippedAt, f.ReceivedAt, id}
	}
	for _, id := range files.changed {
		if err := exec(`UPDATE file SET blob_id=?,name=?,organisation_id=?,author_id=?,organism_id=?,batch=?,replicates=?,controls=?,blanks=?,vehicle_id=?,start_date=?,end_date=?,state=?,validated=?,shipped_at=?,received_at=? WHERE id=?`, fileArgs(id)...); err != nil {
			return fmt.Errorf("update file %s: %w", id, err)
		}
	}
	for _, id := range files.added {
		if err := exec(`INSERT INTO file(blob_id,name,organisation_id,author_id,organism_id,batch,replicates,controls,blanks,vehicle_id,start_date,end_date,state,validated,shipped_at,received_at,id) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, fileArgs(id)...); err != nil {
			return fmt.Errorf("insert file %s: %w", id, err)
		}
	}
	for _, id := range slices.Concat(files.changed, files.added) {
		f := next.Files[id]
		seen := make(map[string]struct{}, len(f.Chemicals))
		for _, name := range f.Chemicals {
			chemID, ok := chemicalIDs[name]
			if !ok {
				continue
			}
			if _, dup := seen[chemID]; dup {
				continue
			}
			seen[chemID] = struct{}{}
			if err := exec(`INSERT INTO file_chemical(file_id,chemical_id) VALUES(?,?)`, id, chemID); err != nil {
				return fmt.Errorf("link file %s chemical %s: %w", id, name, err)
			}
		}
		for pos, tpID := range f.TimepointIDs {
			if err := exec(`INSERT INTO file_timepoint(file_id,timepoint_id,position) VALUES(?,?,?)`, id, tpID, pos+1); err != nil {
				return fmt.Errorf("link file %s timepoint %s: %w", id, tpID, err)
			}
		}
	}
	for _, id := range slices.Concat(samples.changed, samples.added) {
		s := next.Samples[id]
		payload := string(s.Payload)
		if payload == "" {
			payload = "{}"
		}
		if err := exec(`INSERT INTO sample(id,sample_id,file_id,payload) VALUES(?,?,?,?)`, id, s.SampleID, s.FileID, payload); err != nil {
			return fmt.Errorf("insert sample %s: %w", s.SampleID, err)
		}
	}
	return nil
}

func vehicleID(chemicalIDs map[string]string, snapshot memory.Snapshot, vehicle string) string {
	if id, ok := chemicalIDs[vehicle]; ok {
		return id
	}
	for id, c := range snapshot.Chemicals {
		if c.Vehicle() && strings.EqualFold(c.CommonName, vehicle) {
			return id
		}
	}
	return ""
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
