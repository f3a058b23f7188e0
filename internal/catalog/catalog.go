// Package catalog resolves organism, chemical and organisation references to
// the codes used in sample identifiers. The catalog is read-mostly: it is
// seeded at bootstrap and loaded into an immutable Index.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

// Code is a ptx compound code. It renders zero-padded to three digits.
type Code int

func (c Code) String() string { return fmt.Sprintf("%03d", int(c)) }

// Catalog is the lookup capability consumed by the generator and validators.
type Catalog interface {
	OrganismCode(ctx context.Context, shortName string) (string, error)
	ChemicalCode(ctx context.Context, name string) (Code, error)
	ChemicalCodes(ctx context.Context, names []string) (map[string]Code, error)
	AllowedOrganisms(ctx context.Context) ([]string, error)
	AllowedChemicals(ctx context.Context) ([]string, error)
	Vehicles(ctx context.Context) ([]string, error)
	Organisation(ctx context.Context, shortName string) (domain.Organisation, error)
}

// Index is an in-memory Catalog. It is safe for concurrent readers.
type Index struct {
	organisms     map[string]domain.Organism
	chemicals     map[string]domain.Chemical
	organisations map[string]domain.Organisation
}

var _ Catalog = (*Index)(nil)

// NewIndex builds an Index from catalog rows.
func NewIndex(organisms []domain.Organism, chemicals []domain.Chemical, organisations []domain.Organisation) *Index {
	idx := &Index{
		organisms:     make(map[string]domain.Organism, len(organisms)),
		chemicals:     make(map[string]domain.Chemical, len(chemicals)),
		organisations: make(map[string]domain.Organisation, len(organisations)),
	}
	for _, o := range organisms {
		idx.organisms[o.ShortName] = o
	}
	for _, c := range chemicals {
		idx.chemicals[c.CommonName] = c
	}
	for _, o := range organisations {
		idx.organisations[o.ShortName] = o
	}
	return idx
}

// Source is the subset of a persistent store the catalog reads.
type Source interface {
	ListOrganisms() []domain.Organism
	ListChemicals() []domain.Chemical
	ListOrganisations() []domain.Organisation
}

// Load snapshots the catalog tables of src.
func Load(_ context.Context, src Source) *Index {
	return NewIndex(src.ListOrganisms(), src.ListChemicals(), src.ListOrganisations())
}

// OrganismCode returns the identifier letter of an organism.
func (idx *Index) OrganismCode(_ context.Context, shortName string) (string, error) {
	o, ok := idx.organisms[strings.TrimSpace(shortName)]
	if !ok {
		return "", domain.ErrNotFound{Entity: domain.EntityOrganism, ID: shortName}
	}
	return o.Code, nil
}

// ChemicalCode resolves one compound name. Reserved control and blank names
// resolve to their fixed codes regardless of case.
func (idx *Index) ChemicalCode(_ context.Context, name string) (Code, error) {
	if code, ok := identifier.ReservedCode(name); ok {
		return Code(code), nil
	}
	c, ok := idx.chemicals[strings.TrimSpace(name)]
	if !ok || c.Reserved() {
		return 0, domain.ErrNotFound{Entity: domain.EntityChemical, ID: name}
	}
	return Code(c.PTXCode), nil
}

// ChemicalCodes resolves every name or fails on the first miss.
func (idx *Index) ChemicalCodes(ctx context.Context, names []string) (map[string]Code, error) {
	out := make(map[string]Code, len(names))
	for _, name := range names {
		code, err := idx.ChemicalCode(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = code
	}
	return out, nil
}

// AllowedOrganisms lists organism short names in order.
func (idx *Index) AllowedOrganisms(context.Context) ([]string, error) {
	return sortedKeys(idx.organisms), nil
}

// AllowedChemicals lists user chemicals, excluding the reserved rows.
func (idx *Index) AllowedChemicals(context.Context) ([]string, error) {
	out := make([]string, 0, len(idx.chemicals))
	for name, c := range idx.chemicals {
		if !c.Reserved() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Vehicles lists the chemicals usable as compound vehicle.
func (idx *Index) Vehicles(context.Context) ([]string, error) {
	var out []string
	for name, c := range idx.chemicals {
		if c.Vehicle() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Organisation returns the partner record for shortName.
func (idx *Index) Organisation(_ context.Context, shortName string) (domain.Organisation, error) {
	o, ok := idx.organisations[strings.TrimSpace(shortName)]
	if !ok {
		return domain.Organisation{}, domain.ErrNotFound{Entity: domain.EntityOrganisation, ID: shortName}
	}
	return o, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
