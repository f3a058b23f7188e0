// Package domain defines the persistent entities, value types, and rule
// evaluation primitives of the precision-toxicology metadata pipeline.
package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityOrganism identifies an organism catalog record.
	EntityOrganism EntityType = "organism"
	// EntityChemical identifies a chemical catalog record.
	EntityChemical EntityType = "chemical"
	// EntityOrganisation identifies a consortium partner.
	EntityOrganisation EntityType = "organisation"
	// EntityTimepoint identifies a timepoint record.
	EntityTimepoint EntityType = "timepoint"
	// EntityFile identifies a metadata spreadsheet record.
	EntityFile EntityType = "file"
	// EntitySample identifies a sample materialized on receipt.
	EntitySample EntityType = "sample"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Reserved compound codes bound to controls and blanks.
const (
	CodeWater = 997
	CodeBlank = 998
	CodeDMSO  = 999

	// MaxUserChemicalCode is the largest ptx code assignable to a user chemical.
	MaxUserChemicalCode = 996
)

// TimepointUnitHours is the only timepoint unit in use.
const TimepointUnitHours = "hours"

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Organism is a model species known to the consortium.
type Organism struct {
	Base
	Code           string `json:"code"`
	ShortName      string `json:"short_name"`
	ScientificName string `json:"scientific_name"`
}

// Chemical is an exposure compound or a reserved vehicle/blank entry.
type Chemical struct {
	Base
	CommonName string  `json:"common_name"`
	PTXCode    int     `json:"ptx_code"`
	Formula    string  `json:"formula"`
	CAS        *string `json:"cas,omitempty"`
}

// Reserved reports whether the chemical occupies one of the reserved codes.
func (c Chemical) Reserved() bool {
	return c.PTXCode >= CodeWater && c.PTXCode <= CodeDMSO
}

// Vehicle reports whether the chemical can be used as a compound vehicle.
func (c Chemical) Vehicle() bool {
	return c.PTXCode == CodeWater || c.PTXCode == CodeDMSO
}

// Organisation is a consortium partner owning a blob folder.
type Organisation struct {
	Base
	ShortName    string `json:"short_name"`
	LongName     string `json:"long_name"`
	BlobFolderID string `json:"blob_folder_id"`
}

// Timepoint is a labelled exposure time. TP0 denotes blanks and pre-exposure.
type Timepoint struct {
	Base
	Value int    `json:"value"`
	Unit  string `json:"unit"`
	Label string `json:"label"`
}

// Validation records the outcome of the latest persisted validation.
type Validation string

// Validation outcomes.
const (
	ValidationNone    Validation = "none"
	ValidationSuccess Validation = "success"
	ValidationFailed  Validation = "failed"
)

// File is the persistent record of a metadata spreadsheet.
type File struct {
	Base
	BlobID       string     `json:"blob_id"`
	Name         string     `json:"name"`
	Organisation string     `json:"organisation"`
	AuthorID     string     `json:"author_id"`
	Organism     string     `json:"organism"`
	Batch        string     `json:"batch"`
	Replicates   int        `json:"replicates"`
	Controls     int        `json:"controls"`
	Blanks       int        `json:"blanks"`
	Vehicle      string     `json:"vehicle"`
	Chemicals    []string   `json:"chemicals"`
	Timepoints   []int      `json:"timepoints"`
	TimepointIDs []string   `json:"timepoint_ids"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `json:"end_date"`
	State        FileState  `json:"state"`
	Validated    Validation `json:"validated"`
	ShippedAt    *time.Time `json:"shipped_at,omitempty"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
}

// Received reports whether the file has claimed its batch.
func (f File) Received() bool {
	return f.ReceivedAt != nil
}

// Sample is an exposure row frozen at receipt.
type Sample struct {
	Base
	SampleID string          `json:"sample_id"`
	FileID   string          `json:"file_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns the blocking violations in evaluation order.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + blocking[0].Message
}

// ViolatedRule reports whether a blocking violation was raised by the named rule.
func (e RuleViolationError) ViolatedRule(name string) bool {
	for _, v := range e.Result.Blocking() {
		if v.Rule == name {
			return true
		}
	}
	return false
}
