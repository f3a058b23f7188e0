package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONAuditRecord is the serialized form of an AuditEntry.
type JSONAuditRecord struct {
	Operation  string    `json:"operation"`
	Entity     string    `json:"entity"`
	Action     string    `json:"action"`
	EntityID   string    `json:"entity_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// JSONAuditRecorder writes audit entries as JSON lines and retains the most
// recent ones for inspection.
type JSONAuditRecorder struct {
	mu      sync.Mutex
	enc     *json.Encoder
	limit   int
	records []JSONAuditRecord
}

// NewJSONAuditRecorder writes to w, which may be nil. At most limit records
// are retained; a non-positive limit retains all of them.
func NewJSONAuditRecorder(w io.Writer, limit int) *JSONAuditRecorder {
	r := &JSONAuditRecorder{limit: limit}
	if w != nil {
		r.enc = json.NewEncoder(w)
	}
	return r
}

// Record implements AuditRecorder.
func (r *JSONAuditRecorder) Record(_ context.Context, e AuditEntry) {
	rec := JSONAuditRecord{
		Operation:  e.Operation,
		Entity:     string(e.Entity),
		Action:     string(e.Action),
		EntityID:   e.EntityID,
		UserID:     e.UserID,
		Status:     string(e.Status),
		Error:      e.Error,
		DurationMS: float64(e.Duration) / float64(time.Millisecond),
		Timestamp:  e.Timestamp.UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.limit > 0 && len(r.records) > r.limit {
		r.records = append(r.records[:0:0], r.records[len(r.records)-r.limit:]...)
	}
	if r.enc != nil {
		_ = r.enc.Encode(rec)
	}
}

// Records returns a copy of the retained records, oldest first.
func (r *JSONAuditRecorder) Records() []JSONAuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JSONAuditRecord, len(r.records))
	copy(out, r.records)
	return out
}
