// Package spreadsheet holds the typed in-memory form of a metadata workbook
// and its xlsx codec. String cells use "" for absent; numeric cells are
// pointers so that an empty cell stays distinguishable from zero.
package spreadsheet

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Sheet names of a metadata workbook.
const (
	SheetGeneral  = "General Information"
	SheetExposure = "Exposure information"
)

// DateLayout is the layout dates are written with.
const DateLayout = "2006-01-02"

// Column names a spreadsheet column.
type Column string

// General header columns.
const (
	ColPartnerCode       Column = "partner_code"
	ColOrganismShortName Column = "organism_short_name"
	ColExposureBatch     Column = "exposure_batch"
	ColControls          Column = "controls"
	ColReplicates        Column = "replicates"
	ColBlanks            Column = "blanks"
	ColStartDate         Column = "start_date"
	ColEndDate           Column = "end_date"
	ColTimepoints        Column = "timepoints"
	ColCompoundVehicle   Column = "compound_vehicle"
)

// Exposure row columns.
const (
	ColIdentifier          Column = "precisiontox_short_identifier"
	ColCompoundHash        Column = "compound_hash"
	ColShipmentIdentifier  Column = "shipment_identifier"
	ColBoxID               Column = "box_id"
	ColBoxRow              Column = "box_row"
	ColBoxColumn           Column = "box_column"
	ColMassInclTube        Column = "mass_incl_tube_mg"
	ColMassExclTube        Column = "mass_excl_tube_mg"
	ColObservationsNotes   Column = "observations_notes"
	ColLabelTubeIdentifier Column = "label_tube_identifier"
	ColExposureRoute       Column = "exposure_route"
	ColOperator            Column = "operator"
	ColQuantityDead        Column = "quantity_dead_during_exposure"
	ColAmountReplaced      Column = "amount_replaced_before_collection"
	ColCollectionOrder     Column = "collection_order"
	ColReplicate           Column = "replicate"
	ColCompoundName        Column = "compound_name"
	ColDoseCode            Column = "dose_code"
	ColTimepointLevel      Column = "timepoint_level"
	ColTimepointHours      Column = "timepoint_hours"
)

// GeneralColumns is the canonical order of the header sheet.
var GeneralColumns = []Column{
	ColPartnerCode, ColOrganismShortName, ColExposureBatch, ColControls, ColReplicates,
	ColBlanks, ColStartDate, ColEndDate, ColTimepoints, ColCompoundVehicle,
}

// ExposureColumns is the canonical order of the exposure sheet.
var ExposureColumns = []Column{
	ColIdentifier, ColCompoundHash,
	ColShipmentIdentifier, ColBoxID, ColBoxRow, ColBoxColumn, ColMassInclTube, ColMassExclTube,
	ColObservationsNotes, ColLabelTubeIdentifier, ColExposureRoute, ColOperator,
	ColQuantityDead, ColAmountReplaced, ColCollectionOrder,
	ColReplicate, ColCompoundName, ColDoseCode, ColTimepointLevel, ColTimepointHours,
}

// OperationalColumns are the exposure columns filled in by the laboratory.
var OperationalColumns = []Column{
	ColShipmentIdentifier, ColBoxID, ColBoxRow, ColBoxColumn, ColMassInclTube, ColMassExclTube,
	ColObservationsNotes, ColLabelTubeIdentifier, ColExposureRoute, ColOperator,
	ColQuantityDead, ColAmountReplaced, ColCollectionOrder,
}

// Kind is the cell type of a column.
type Kind int

// Cell kinds.
const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindDate
	KindIntList
)

var kinds = map[Column]Kind{
	ColControls:        KindInt,
	ColReplicates:      KindInt,
	ColBlanks:          KindInt,
	ColStartDate:       KindDate,
	ColEndDate:         KindDate,
	ColTimepoints:      KindIntList,
	ColBoxColumn:       KindString,
	ColMassInclTube:    KindFloat,
	ColMassExclTube:    KindFloat,
	ColQuantityDead:    KindInt,
	ColAmountReplaced:  KindInt,
	ColCollectionOrder: KindInt,
	ColReplicate:       KindInt,
	ColTimepointHours:  KindInt,
}

// KindOf returns the cell type of col.
func KindOf(col Column) Kind {
	return kinds[col]
}

// General is the single record of the header sheet. Validate tags hold the
// per-cell rules; cross-field rules live with the validators.
type General struct {
	PartnerCode       string     `json:"partner_code" validate:"required"`
	OrganismShortName string     `json:"organism_short_name" validate:"required"`
	ExposureBatch     string     `json:"exposure_batch" validate:"required,batch"`
	Controls          *int       `json:"controls" validate:"required,gte=1"`
	Replicates        *int       `json:"replicates" validate:"required,gte=1"`
	Blanks            *int       `json:"blanks" validate:"required,gte=0,lte=2"`
	StartDate         *time.Time `json:"start_date" validate:"required"`
	EndDate           *time.Time `json:"end_date" validate:"required"`
	Timepoints        []int      `json:"timepoints" validate:"required,min=1,max=5,dive,gte=1"`
	CompoundVehicle   string     `json:"compound_vehicle" validate:"required"`

	// Invalid holds the raw text of cells that did not parse as their kind.
	Invalid map[Column]string `json:"-"`
}

// ExposureRow is one sample row. The box, route, operator and collection
// order columns become required once the laboratory fills any operational
// column.
type ExposureRow struct {
	Identifier          string   `json:"precisiontox_short_identifier" validate:"required"`
	CompoundHash        string   `json:"compound_hash" validate:"required"`
	ShipmentIdentifier  string   `json:"shipment_identifier"`
	BoxID               string   `json:"box_id" validate:"required_with=ShipmentIdentifier BoxID BoxRow BoxColumn MassInclTube MassExclTube ObservationsNotes LabelTubeIdentifier ExposureRoute Operator QuantityDead AmountReplaced CollectionOrder"`
	BoxRow              string   `json:"box_row" validate:"required_with=ShipmentIdentifier BoxID BoxRow BoxColumn MassInclTube MassExclTube ObservationsNotes LabelTubeIdentifier ExposureRoute Operator QuantityDead AmountReplaced CollectionOrder"`
	BoxColumn           string   `json:"box_column" validate:"required_with=ShipmentIdentifier BoxID BoxRow BoxColumn MassInclTube MassExclTube ObservationsNotes LabelTubeIdentifier ExposureRoute Operator QuantityDead AmountReplaced CollectionOrder"`
	MassInclTube        *float64 `json:"mass_incl_tube_mg" validate:"omitempty,gte=0"`
	MassExclTube        *float64 `json:"mass_excl_tube_mg" validate:"omitempty,gte=0"`
	ObservationsNotes   string   `json:"observations_notes"`
	LabelTubeIdentifier string   `json:"label_tube_identifier"`
	ExposureRoute       string   `json:"exposure_route" validate:"required_with=ShipmentIdentifier BoxID BoxRow BoxColumn MassInclTube MassExclTube ObservationsNotes LabelTubeIdentifier ExposureRoute Operator QuantityDead AmountReplaced CollectionOrder"`
	Operator            string   `json:"operator" validate:"required_with=ShipmentIdentifier BoxID BoxRow BoxColumn MassInclTube MassExclTube ObservationsNotes LabelTubeIdentifier ExposureRoute Operator QuantityDead AmountReplaced CollectionOrder"`
	QuantityDead        *int     `json:"quantity_dead_during_exposure" validate:"omitempty,gte=0"`
	AmountReplaced      *int     `json:"amount_replaced_before_collection" validate:"omitempty,gte=0"`
	CollectionOrder     *int     `json:"collection_order" validate:"required_with=ShipmentIdentifier BoxID BoxRow BoxColumn MassInclTube MassExclTube ObservationsNotes LabelTubeIdentifier ExposureRoute Operator QuantityDead AmountReplaced CollectionOrder,omitempty,gte=0"`
	Replicate           *int     `json:"replicate" validate:"required,gte=0"`
	CompoundName        string   `json:"compound_name" validate:"required"`
	DoseCode            string   `json:"dose_code" validate:"required,oneof=0 BMD10 BMD25 10mg/L"`
	TimepointLevel      string   `json:"timepoint_level" validate:"required,tplevel"`
	TimepointHours      *int     `json:"timepoint_hours" validate:"required,gte=0"`

	// Line is the 1-based sheet row the record was read from.
	Line int `json:"-"`
	// Invalid holds the raw text of cells that did not parse as their kind.
	Invalid map[Column]string `json:"-"`
}

// Workbook is a parsed metadata file.
type Workbook struct {
	General  General
	Exposure []ExposureRow
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Label names a row in validation reports.
func (r ExposureRow) Label(index int) string {
	line := r.Line
	if line == 0 {
		line = index + 2
	}
	return fmt.Sprintf("Record at line %d (%s)", line, r.Identifier)
}

// Blank reports whether every cell of the row is empty.
func (r ExposureRow) Blank() bool {
	for _, col := range ExposureColumns {
		if r.Text(col) != "" {
			return false
		}
	}
	return len(r.Invalid) == 0
}

// Text renders the cell of col as it is written to the sheet.
func (r ExposureRow) Text(col Column) string {
	if raw, ok := r.Invalid[col]; ok {
		return raw
	}
	return formatValue(r.value(col))
}

// Present reports whether the cell of col holds anything.
func (r ExposureRow) Present(col Column) bool {
	return r.Text(col) != ""
}

// Text renders the header cell of col.
func (g General) Text(col Column) string {
	if raw, ok := g.Invalid[col]; ok {
		return raw
	}
	return formatValue(g.value(col))
}

// Clone deep-copies the workbook.
func (wb *Workbook) Clone() *Workbook {
	out := &Workbook{General: wb.General.clone(), Exposure: make([]ExposureRow, len(wb.Exposure))}
	for i, r := range wb.Exposure {
		out.Exposure[i] = r.clone()
	}
	return out
}

func (g General) clone() General {
	g.Controls = clonePtr(g.Controls)
	g.Replicates = clonePtr(g.Replicates)
	g.Blanks = clonePtr(g.Blanks)
	g.StartDate = clonePtr(g.StartDate)
	g.EndDate = clonePtr(g.EndDate)
	g.Timepoints = slices.Clone(g.Timepoints)
	g.Invalid = maps.Clone(g.Invalid)
	return g
}

func (r ExposureRow) clone() ExposureRow {
	r.MassInclTube = clonePtr(r.MassInclTube)
	r.MassExclTube = clonePtr(r.MassExclTube)
	r.QuantityDead = clonePtr(r.QuantityDead)
	r.AmountReplaced = clonePtr(r.AmountReplaced)
	r.CollectionOrder = clonePtr(r.CollectionOrder)
	r.Replicate = clonePtr(r.Replicate)
	r.TimepointHours = clonePtr(r.TimepointHours)
	r.Invalid = maps.Clone(r.Invalid)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (g *General) value(col Column) any {
	switch col {
	case ColPartnerCode:
		return g.PartnerCode
	case ColOrganismShortName:
		return g.OrganismShortName
	case ColExposureBatch:
		return g.ExposureBatch
	case ColControls:
		return g.Controls
	case ColReplicates:
		return g.Replicates
	case ColBlanks:
		return g.Blanks
	case ColStartDate:
		return g.StartDate
	case ColEndDate:
		return g.EndDate
	case ColTimepoints:
		return g.Timepoints
	case ColCompoundVehicle:
		return g.CompoundVehicle
	}
	return nil
}

func (r *ExposureRow) value(col Column) any {
	switch col {
	case ColIdentifier:
		return r.Identifier
	case ColCompoundHash:
		return r.CompoundHash
	case ColShipmentIdentifier:
		return r.ShipmentIdentifier
	case ColBoxID:
		return r.BoxID
	case ColBoxRow:
		return r.BoxRow
	case ColBoxColumn:
		return r.BoxColumn
	case ColMassInclTube:
		return r.MassInclTube
	case ColMassExclTube:
		return r.MassExclTube
	case ColObservationsNotes:
		return r.ObservationsNotes
	case ColLabelTubeIdentifier:
		return r.LabelTubeIdentifier
	case ColExposureRoute:
		return r.ExposureRoute
	case ColOperator:
		return r.Operator
	case ColQuantityDead:
		return r.QuantityDead
	case ColAmountReplaced:
		return r.AmountReplaced
	case ColCollectionOrder:
		return r.CollectionOrder
	case ColReplicate:
		return r.Replicate
	case ColCompoundName:
		return r.CompoundName
	case ColDoseCode:
		return r.DoseCode
	case ColTimepointLevel:
		return r.TimepointLevel
	case ColTimepointHours:
		return r.TimepointHours
	}
	return nil
}

func (r *ExposureRow) target(col Column) any {
	switch col {
	case ColIdentifier:
		return &r.Identifier
	case ColCompoundHash:
		return &r.CompoundHash
	case ColShipmentIdentifier:
		return &r.ShipmentIdentifier
	case ColBoxID:
		return &r.BoxID
	case ColBoxRow:
		return &r.BoxRow
	case ColBoxColumn:
		return &r.BoxColumn
	case ColMassInclTube:
		return &r.MassInclTube
	case ColMassExclTube:
		return &r.MassExclTube
	case ColObservationsNotes:
		return &r.ObservationsNotes
	case ColLabelTubeIdentifier:
		return &r.LabelTubeIdentifier
	case ColExposureRoute:
		return &r.ExposureRoute
	case ColOperator:
		return &r.Operator
	case ColQuantityDead:
		return &r.QuantityDead
	case ColAmountReplaced:
		return &r.AmountReplaced
	case ColCollectionOrder:
		return &r.CollectionOrder
	case ColReplicate:
		return &r.Replicate
	case ColCompoundName:
		return &r.CompoundName
	case ColDoseCode:
		return &r.DoseCode
	case ColTimepointLevel:
		return &r.TimepointLevel
	case ColTimepointHours:
		return &r.TimepointHours
	}
	return nil
}

func (g *General) target(col Column) any {
	switch col {
	case ColPartnerCode:
		return &g.PartnerCode
	case ColOrganismShortName:
		return &g.OrganismShortName
	case ColExposureBatch:
		return &g.ExposureBatch
	case ColControls:
		return &g.Controls
	case ColReplicates:
		return &g.Replicates
	case ColBlanks:
		return &g.Blanks
	case ColStartDate:
		return &g.StartDate
	case ColEndDate:
		return &g.EndDate
	case ColTimepoints:
		return &g.Timepoints
	case ColCompoundVehicle:
		return &g.CompoundVehicle
	}
	return nil
}
