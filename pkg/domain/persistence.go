package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateOrganism(Organism) (Organism, error)
	CreateChemical(Chemical) (Chemical, error)
	CreateOrganisation(Organisation) (Organisation, error)
	EnsureTimepoint(Timepoint) (Timepoint, error)
	CreateFile(File) (File, error)
	UpdateFile(id string, mutator func(*File) error) (File, error)
	DeleteFile(id string) error
	CreateSample(Sample) (Sample, error)
	FindFile(id string) (File, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListOrganisms() []Organism
	ListChemicals() []Chemical
	ListOrganisations() []Organisation
	ListTimepoints() []Timepoint
	ListFiles() []File
	ListSamples() []Sample
	FindOrganism(id string) (Organism, bool)
	FindFile(id string) (File, bool)
	FindSample(sampleID string) (Sample, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetFile(id string) (File, bool)
	ListFiles() []File
	ListSamples() []Sample
	ListOrganisms() []Organism
	ListChemicals() []Chemical
	ListOrganisations() []Organisation
}
