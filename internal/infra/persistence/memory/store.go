// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ptxmeta/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Organism aliases domain.Organism for in-memory persistence operations.
	Organism = domain.Organism
	// Chemical aliases domain.Chemical.
	Chemical = domain.Chemical
	// Organisation aliases domain.Organisation.
	Organisation = domain.Organisation
	// Timepoint aliases domain.Timepoint.
	Timepoint = domain.Timepoint
	// File aliases domain.File.
	File = domain.File
	// Sample aliases domain.Sample.
	Sample = domain.Sample
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	organisms     map[string]Organism
	chemicals     map[string]Chemical
	organisations map[string]Organisation
	timepoints    map[string]Timepoint
	files         map[string]File
	samples       map[string]Sample
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Organisms     map[string]Organism     `json:"organisms"`
	Chemicals     map[string]Chemical     `json:"chemicals"`
	Organisations map[string]Organisation `json:"organisations"`
	Timepoints    map[string]Timepoint    `json:"timepoints"`
	Files         map[string]File         `json:"files"`
	Samples       map[string]Sample       `json:"samples"`
}

func newMemoryState() memoryState {
	return memoryState{
		organisms:     make(map[string]Organism),
		chemicals:     make(map[string]Chemical),
		organisations: make(map[string]Organisation),
		timepoints:    make(map[string]Timepoint),
		files:         make(map[string]File),
		samples:       make(map[string]Sample),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Organisms:     cloned.organisms,
		Chemicals:     cloned.chemicals,
		Organisations: cloned.organisations,
		Timepoints:    cloned.timepoints,
		Files:         cloned.files,
		Samples:       cloned.samples,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		organisms:     s.Organisms,
		chemicals:     s.Chemicals,
		organisations: s.Organisations,
		timepoints:    s.Timepoints,
		files:         s.Files,
		samples:       s.Samples,
	}
	return state.clone()
}

// migrateSnapshot fills maps missing from older snapshots and derives the
// explicit lifecycle state for files persisted before it existed.
func migrateSnapshot(s Snapshot) Snapshot {
	if s.Organisms == nil {
		s.Organisms = map[string]Organism{}
	}
	if s.Chemicals == nil {
		s.Chemicals = map[string]Chemical{}
	}
	if s.Organisations == nil {
		s.Organisations = map[string]Organisation{}
	}
	if s.Timepoints == nil {
		s.Timepoints = map[string]Timepoint{}
	}
	if s.Files == nil {
		s.Files = map[string]File{}
	}
	if s.Samples == nil {
		s.Samples = map[string]Sample{}
	}
	for id, f := range s.Files {
		if f.Validated == "" {
			f.Validated = domain.ValidationNone
		}
		if !domain.ValidFileState(f.State) {
			f.State = domain.StateFor(f)
		}
		s.Files[id] = f
	}
	return s
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.organisms {
		cloned.organisms[k] = v
	}
	for k, v := range s.chemicals {
		cloned.chemicals[k] = cloneChemical(v)
	}
	for k, v := range s.organisations {
		cloned.organisations[k] = v
	}
	for k, v := range s.timepoints {
		cloned.timepoints[k] = v
	}
	for k, v := range s.files {
		cloned.files[k] = cloneFile(v)
	}
	for k, v := range s.samples {
		cloned.samples[k] = cloneSample(v)
	}
	return cloned
}

func cloneChemical(c Chemical) Chemical {
	if c.CAS != nil {
		cas := *c.CAS
		c.CAS = &cas
	}
	return c
}

func cloneFile(f File) File {
	f.Chemicals = append([]string(nil), f.Chemicals...)
	f.Timepoints = append([]int(nil), f.Timepoints...)
	f.TimepointIDs = append([]string(nil), f.TimepointIDs...)
	if f.ShippedAt != nil {
		t := *f.ShippedAt
		f.ShippedAt = &t
	}
	if f.ReceivedAt != nil {
		t := *f.ReceivedAt
		f.ReceivedAt = &t
	}
	return f
}

func cloneSample(s Sample) Sample {
	if s.Payload != nil {
		s.Payload = append(json.RawMessage(nil), s.Payload...)
	}
	return s
}

// Store provides an in-memory transactional store for the core domain.
// Transactions are serialized, so a file row is never mutated concurrently.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Rules are evaluated against the copy; blocking violations discard it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWith(ctx, fn, nil)
}

// RunInTransactionWith executes fn and hands the candidate state to persist
// before it is published. A persist error discards the transaction.
func (s *Store) RunInTransactionWith(ctx context.Context, fn func(tx Transaction) error, persist func(Snapshot) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, result, err := s.apply(ctx, fn)
	if err != nil {
		return result, err
	}
	if persist != nil {
		if err := persist(snapshotFromMemoryState(state)); err != nil {
			return Result{}, err
		}
	}
	s.state = state
	return result, nil
}

func (s *Store) apply(ctx context.Context, fn func(tx Transaction) error) (memoryState, Result, error) {
	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return memoryState{}, Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return memoryState{}, Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return memoryState{}, res, domain.RuleViolationError{Result: res}
		}
	}
	if err := ctx.Err(); err != nil {
		return memoryState{}, Result{}, err
	}
	return tx.state, result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateOrganism stores a catalog organism; code and short name are unique.
func (tx *transaction) CreateOrganism(o Organism) (Organism, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, exists := tx.state.organisms[o.ID]; exists {
		return Organism{}, fmt.Errorf("organism %q already exists", o.ID)
	}
	if len(o.Code) != 1 || o.Code[0] < 'A' || o.Code[0] > 'Z' {
		return Organism{}, fmt.Errorf("organism code %q must be a single uppercase letter", o.Code)
	}
	if o.ShortName == "" {
		return Organism{}, fmt.Errorf("organism short name is required")
	}
	for _, existing := range tx.state.organisms {
		if existing.Code == o.Code {
			return Organism{}, fmt.Errorf("organism code %q already used by %s", o.Code, existing.ShortName)
		}
		if existing.ShortName == o.ShortName {
			return Organism{}, fmt.Errorf("organism %q already exists", o.ShortName)
		}
	}
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.organisms[o.ID] = o
	tx.recordChange(Change{Entity: domain.EntityOrganism, Action: domain.ActionCreate, After: o})
	return o, nil
}

// CreateChemical stores a catalog chemical; common name and ptx code are unique.
func (tx *transaction) CreateChemical(c Chemical) (Chemical, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := tx.state.chemicals[c.ID]; exists {
		return Chemical{}, fmt.Errorf("chemical %q already exists", c.ID)
	}
	if c.CommonName == "" {
		return Chemical{}, fmt.Errorf("chemical common name is required")
	}
	if c.PTXCode < 1 || c.PTXCode > domain.CodeDMSO {
		return Chemical{}, fmt.Errorf("chemical %q: ptx code %d out of range", c.CommonName, c.PTXCode)
	}
	for _, existing := range tx.state.chemicals {
		if existing.PTXCode == c.PTXCode {
			return Chemical{}, fmt.Errorf("ptx code %03d already used by %s", c.PTXCode, existing.CommonName)
		}
		if existing.CommonName == c.CommonName {
			return Chemical{}, fmt.Errorf("chemical %q already exists", c.CommonName)
		}
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.chemicals[c.ID] = cloneChemical(c)
	tx.recordChange(Change{Entity: domain.EntityChemical, Action: domain.ActionCreate, After: cloneChemical(c)})
	return cloneChemical(c), nil
}

// CreateOrganisation stores a partner; short name is unique.
func (tx *transaction) CreateOrganisation(o Organisation) (Organisation, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, exists := tx.state.organisations[o.ID]; exists {
		return Organisation{}, fmt.Errorf("organisation %q already exists", o.ID)
	}
	if o.ShortName == "" {
		return Organisation{}, fmt.Errorf("organisation short name is required")
	}
	for _, existing := range tx.state.organisations {
		if existing.ShortName == o.ShortName {
			return Organisation{}, fmt.Errorf("organisation %q already exists", o.ShortName)
		}
	}
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.organisations[o.ID] = o
	tx.recordChange(Change{Entity: domain.EntityOrganisation, Action: domain.ActionCreate, After: o})
	return o, nil
}

// EnsureTimepoint returns the timepoint matching value, unit and label,
// creating it when absent.
func (tx *transaction) EnsureTimepoint(t Timepoint) (Timepoint, error) {
	if t.Unit == "" {
		t.Unit = domain.TimepointUnitHours
	}
	if t.Value < 0 {
		return Timepoint{}, fmt.Errorf("timepoint value %d must not be negative", t.Value)
	}
	for _, existing := range tx.state.timepoints {
		if existing.Value == t.Value && existing.Unit == t.Unit && existing.Label == t.Label {
			return existing, nil
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.timepoints[t.ID] = t
	tx.recordChange(Change{Entity: domain.EntityTimepoint, Action: domain.ActionCreate, After: t})
	return t, nil
}

// CreateFile stores a new file record.
func (tx *transaction) CreateFile(f File) (File, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if _, exists := tx.state.files[f.ID]; exists {
		return File{}, fmt.Errorf("file %q already exists", f.ID)
	}
	if f.Validated == "" {
		f.Validated = domain.ValidationNone
	}
	if f.State == "" {
		f.State = domain.StateFor(f)
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.files[f.ID] = cloneFile(f)
	tx.recordChange(Change{Entity: domain.EntityFile, Action: domain.ActionCreate, After: cloneFile(f)})
	return cloneFile(f), nil
}

// UpdateFile mutates a file using the provided mutator function.
func (tx *transaction) UpdateFile(id string, mutator func(*File) error) (File, error) {
	current, ok := tx.state.files[id]
	if !ok {
		return File{}, domain.ErrNotFound{Entity: domain.EntityFile, ID: id}
	}
	before := cloneFile(current)
	if err := mutator(&current); err != nil {
		return File{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.files[id] = cloneFile(current)
	tx.recordChange(Change{Entity: domain.EntityFile, Action: domain.ActionUpdate, Before: before, After: cloneFile(current)})
	return cloneFile(current), nil
}

// DeleteFile removes a file and cascades to its samples.
func (tx *transaction) DeleteFile(id string) error {
	current, ok := tx.state.files[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityFile, ID: id}
	}
	for key, sample := range tx.state.samples {
		if sample.FileID != id {
			continue
		}
		delete(tx.state.samples, key)
		tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionDelete, Before: cloneSample(sample)})
	}
	delete(tx.state.files, id)
	tx.recordChange(Change{Entity: domain.EntityFile, Action: domain.ActionDelete, Before: cloneFile(current)})
	return nil
}

// CreateSample stores a sample; sample identifiers are unique across files.
func (tx *transaction) CreateSample(s Sample) (Sample, error) {
	if s.SampleID == "" {
		return Sample{}, fmt.Errorf("sample identifier is required")
	}
	if _, ok := tx.state.files[s.FileID]; !ok {
		return Sample{}, domain.ErrNotFound{Entity: domain.EntityFile, ID: s.FileID}
	}
	for _, existing := range tx.state.samples {
		if existing.SampleID == s.SampleID {
			return Sample{}, fmt.Errorf("%w: sample %s already exists", domain.ErrIntegrity, s.SampleID)
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.samples[s.ID] = cloneSample(s)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionCreate, After: cloneSample(s)})
	return cloneSample(s), nil
}

// FindFile exposes file lookup within the transaction scope.
func (tx *transaction) FindFile(id string) (File, bool) {
	f, ok := tx.state.files[id]
	if !ok {
		return File{}, false
	}
	return cloneFile(f), true
}

// Read helpers ---------------------------------------------------------------

// GetFile retrieves a file by ID from committed state.
func (s *Store) GetFile(id string) (File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.files[id]
	if !ok {
		return File{}, false
	}
	return cloneFile(f), true
}

// ListFiles returns all files from committed state, oldest first.
func (s *Store) ListFiles() []File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listFiles(&s.state)
}

// ListSamples returns all samples from committed state.
func (s *Store) ListSamples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSamples(&s.state)
}

// ListOrganisms returns all organisms from committed state.
func (s *Store) ListOrganisms() []Organism {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrganisms(&s.state)
}

// ListChemicals returns all chemicals ordered by ptx code.
func (s *Store) ListChemicals() []Chemical {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listChemicals(&s.state)
}

// ListOrganisations returns all organisations ordered by short name.
func (s *Store) ListOrganisations() []Organisation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrganisations(&s.state)
}

func listOrganisms(state *memoryState) []Organism {
	out := make([]Organism, 0, len(state.organisms))
	for _, o := range state.organisms {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortName < out[j].ShortName })
	return out
}

func listChemicals(state *memoryState) []Chemical {
	out := make([]Chemical, 0, len(state.chemicals))
	for _, c := range state.chemicals {
		out = append(out, cloneChemical(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PTXCode < out[j].PTXCode })
	return out
}

func listOrganisations(state *memoryState) []Organisation {
	out := make([]Organisation, 0, len(state.organisations))
	for _, o := range state.organisations {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortName < out[j].ShortName })
	return out
}

func listTimepoints(state *memoryState) []Timepoint {
	out := make([]Timepoint, 0, len(state.timepoints))
	for _, t := range state.timepoints {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func listFiles(state *memoryState) []File {
	out := make([]File, 0, len(state.files))
	for _, f := range state.files {
		out = append(out, cloneFile(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func listSamples(state *memoryState) []Sample {
	out := make([]Sample, 0, len(state.samples))
	for _, s := range state.samples {
		out = append(out, cloneSample(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
	return out
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListOrganisms() []Organism         { return listOrganisms(v.state) }
func (v transactionView) ListChemicals() []Chemical         { return listChemicals(v.state) }
func (v transactionView) ListOrganisations() []Organisation { return listOrganisations(v.state) }
func (v transactionView) ListTimepoints() []Timepoint       { return listTimepoints(v.state) }
func (v transactionView) ListFiles() []File                 { return listFiles(v.state) }
func (v transactionView) ListSamples() []Sample             { return listSamples(v.state) }

// FindOrganism looks an organism up by record id.
func (v transactionView) FindOrganism(id string) (Organism, bool) {
	o, ok := v.state.organisms[id]
	return o, ok
}

// FindFile looks a file up by record id.
func (v transactionView) FindFile(id string) (File, bool) {
	f, ok := v.state.files[id]
	if !ok {
		return File{}, false
	}
	return cloneFile(f), true
}

// FindSample looks a sample up by its encoded identifier.
func (v transactionView) FindSample(sampleID string) (Sample, bool) {
	for _, s := range v.state.samples {
		if s.SampleID == sampleID {
			return cloneSample(s), true
		}
	}
	return Sample{}, false
}
