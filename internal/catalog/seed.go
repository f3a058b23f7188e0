package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

// SeedFile is the YAML document describing bootstrap catalog rows.
type SeedFile struct {
	Organisms []struct {
		Code           string `yaml:"code"`
		ShortName      string `yaml:"short_name"`
		ScientificName string `yaml:"scientific_name"`
	} `yaml:"organisms"`
	Chemicals []struct {
		CommonName string `yaml:"common_name"`
		PTXCode    int    `yaml:"ptx_code"`
		Formula    string `yaml:"formula"`
		CAS        string `yaml:"cas"`
	} `yaml:"chemicals"`
	Organisations []struct {
		ShortName    string `yaml:"short_name"`
		LongName     string `yaml:"long_name"`
		BlobFolderID string `yaml:"blob_folder_id"`
	} `yaml:"organisations"`
}

// Seed is the decoded bootstrap content.
type Seed struct {
	Organisms     []domain.Organism
	Chemicals     []domain.Chemical
	Organisations []domain.Organisation
}

// ReservedChemicals are the rows every catalog starts with.
func ReservedChemicals() []domain.Chemical {
	return []domain.Chemical{
		{CommonName: identifier.VehicleWater, PTXCode: domain.CodeWater, Formula: "H2O"},
		{CommonName: "Blank", PTXCode: domain.CodeBlank},
		{CommonName: identifier.VehicleDMSO, PTXCode: domain.CodeDMSO, Formula: "C2H6OS"},
	}
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(r io.Reader) (Seed, error) {
	var doc SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return Seed{}, fmt.Errorf("decode catalog seed: %w", err)
	}
	var seed Seed
	for _, o := range doc.Organisms {
		seed.Organisms = append(seed.Organisms, domain.Organism{Code: o.Code, ShortName: o.ShortName, ScientificName: o.ScientificName})
	}
	for _, c := range doc.Chemicals {
		if c.PTXCode < 1 || c.PTXCode > domain.MaxUserChemicalCode {
			return Seed{}, fmt.Errorf("chemical %q: ptx code %d outside 1..%d", c.CommonName, c.PTXCode, domain.MaxUserChemicalCode)
		}
		if _, reserved := identifier.ReservedCode(c.CommonName); reserved {
			return Seed{}, fmt.Errorf("chemical %q uses a reserved name", c.CommonName)
		}
		chem := domain.Chemical{CommonName: c.CommonName, PTXCode: c.PTXCode, Formula: c.Formula}
		if c.CAS != "" {
			cas := c.CAS
			chem.CAS = &cas
		}
		seed.Chemicals = append(seed.Chemicals, chem)
	}
	for _, o := range doc.Organisations {
		seed.Organisations = append(seed.Organisations, domain.Organisation{ShortName: o.ShortName, LongName: o.LongName, BlobFolderID: o.BlobFolderID})
	}
	return seed, nil
}

// LoadSeedFile reads a YAML seed from path.
func LoadSeedFile(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, fmt.Errorf("open catalog seed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseSeed(f)
}

// Bootstrap writes reserved chemicals, then the seed rows and the TP0
// timepoint, in one transaction. Rows whose natural key exists are skipped.
func Bootstrap(ctx context.Context, store domain.PersistentStore, seed Seed) error {
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		view := tx.Snapshot()
		chemicals := make(map[string]bool)
		codes := make(map[int]bool)
		for _, c := range view.ListChemicals() {
			chemicals[c.CommonName] = true
			codes[c.PTXCode] = true
		}
		for _, c := range append(ReservedChemicals(), seed.Chemicals...) {
			if chemicals[c.CommonName] || (c.Reserved() && codes[c.PTXCode]) {
				continue
			}
			if _, err := tx.CreateChemical(c); err != nil {
				return fmt.Errorf("seed chemical %s: %w", c.CommonName, err)
			}
			chemicals[c.CommonName] = true
		}

		organisms := make(map[string]bool)
		for _, o := range view.ListOrganisms() {
			organisms[o.ShortName] = true
		}
		for _, o := range seed.Organisms {
			if organisms[o.ShortName] {
				continue
			}
			if _, err := tx.CreateOrganism(o); err != nil {
				return fmt.Errorf("seed organism %s: %w", o.ShortName, err)
			}
			organisms[o.ShortName] = true
		}

		organisations := make(map[string]bool)
		for _, o := range view.ListOrganisations() {
			organisations[o.ShortName] = true
		}
		for _, o := range seed.Organisations {
			if organisations[o.ShortName] {
				continue
			}
			if o.BlobFolderID == "" {
				o.BlobFolderID = o.ShortName
			}
			if _, err := tx.CreateOrganisation(o); err != nil {
				return fmt.Errorf("seed organisation %s: %w", o.ShortName, err)
			}
			organisations[o.ShortName] = true
		}

		_, err := tx.EnsureTimepoint(domain.Timepoint{Value: 0, Unit: domain.TimepointUnitHours, Label: "TP0"})
		return err
	})
	return err
}
