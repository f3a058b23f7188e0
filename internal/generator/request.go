// Package generator expands a compact study request into a fully populated
// metadata workbook.
package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"ptxmeta/internal/schema"
	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

// RequestLabel labels request problems in field errors.
const RequestLabel = "Request"

// MaxTimepoints is the number of timepoint levels an identifier can encode.
const MaxTimepoints = identifier.MaxTimepointLevel

const dateLayout = "2006-01-02"

// Condition is one exposure condition: a dose applied to each chemical.
type Condition struct {
	Chemicals []string `json:"chemicals" validate:"required,min=1,dive,required"`
	Dose      string   `json:"dose" validate:"required,oneof=0 BMD10 BMD25 10mg/L"`
}

// UnmarshalJSON accepts the numeric dose 0 as the code "0" and rejects
// unknown keys.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Chemicals []string        `json:"chemicals"`
		Dose      json.RawMessage `json:"dose"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	c.Chemicals = raw.Chemicals
	c.Dose = ""
	dose := bytes.TrimSpace(raw.Dose)
	switch {
	case len(dose) == 0 || string(dose) == "null":
	case dose[0] == '"':
		if err := json.Unmarshal(dose, &c.Dose); err != nil {
			return err
		}
	default:
		v, err := strconv.ParseFloat(string(dose), 64)
		if err != nil {
			return fmt.Errorf("dose %s is not a string or number", dose)
		}
		c.Dose = string(dose)
		if v == 0 {
			c.Dose = identifier.DoseZero
		}
	}
	return nil
}

// Request describes a study to generate. Treat it as an immutable value.
type Request struct {
	Partner            string      `json:"partner" validate:"required"`
	Organism           string      `json:"organism" validate:"required"`
	ExposureBatch      string      `json:"exposure_batch" validate:"required,batch"`
	ReplicatesExposure int         `json:"replicates4exposure" validate:"required,gte=1"`
	ReplicatesControl  int         `json:"replicates4control" validate:"required,gte=1"`
	ReplicatesBlank    int         `json:"replicates_blank" validate:"gte=0,lte=2"`
	StartDate          time.Time   `json:"start_date" validate:"required"`
	EndDate            time.Time   `json:"end_date" validate:"required"`
	Timepoints         []int       `json:"timepoints" validate:"required,min=1,max=5,dive,gte=1"`
	Vehicle            string      `json:"vehicle" validate:"required"`
	Exposure           []Condition `json:"exposure" validate:"required,min=1,dive"`
}

// requestField binds a JSON key to its destination and the message shown
// when the value has the wrong type.
type requestField struct {
	dest    any
	message string
}

func (r *Request) fields() map[string]requestField {
	return map[string]requestField{
		"partner":             {&r.Partner, schema.MsgString},
		"organism":            {&r.Organism, schema.MsgString},
		"exposure_batch":      {&r.ExposureBatch, schema.MsgString},
		"replicates4exposure": {&r.ReplicatesExposure, schema.MsgInteger},
		"replicates4control":  {&r.ReplicatesControl, schema.MsgInteger},
		"replicates_blank":    {&r.ReplicatesBlank, schema.MsgInteger},
		"start_date":          {&r.StartDate, schema.MsgDate},
		"end_date":            {&r.EndDate, schema.MsgDate},
		"timepoints":          {&r.Timepoints, "Must be a list of integers."},
		"vehicle":             {&r.Vehicle, schema.MsgString},
		"exposure":            {&r.Exposure, "Must be a list of objects with chemicals and dose."},
	}
}

// DecodeRequest reads a JSON request into a Request. Unknown keys and values
// of the wrong type are reported together with the tag failures.
func DecodeRequest(r io.Reader) (Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Request{}, fmt.Errorf("read request: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Request{}, domain.NewInputError(domain.ErrInvalidRequest,
			domain.FieldError{Label: RequestLabel, Message: "Malformed JSON: " + err.Error()})
	}

	var req Request
	known := req.fields()
	var fields []domain.FieldError
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		f, ok := known[key]
		if !ok {
			fields = append(fields, domain.FieldError{Label: RequestLabel, Field: key, Message: schema.MsgUndeclared})
			continue
		}
		if err := decodeField(raw[key], f.dest); err != nil {
			fields = append(fields, domain.FieldError{Label: RequestLabel, Field: key, Message: f.message})
		}
	}
	return check(req, fields...)
}

func decodeField(data json.RawMessage, dest any) error {
	t, ok := dest.(*time.Time)
	if !ok {
		return json.Unmarshal(data, dest)
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(*s))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Validate re-applies the request checks to a value built in code.
func (r Request) Validate() error {
	_, err := check(r)
	return err
}

// Chemicals returns the distinct exposure chemicals in first-seen order.
func (r Request) Chemicals() []string {
	var out []string
	for _, cond := range r.Exposure {
		for _, name := range cond.Chemicals {
			if _, reserved := identifier.ReservedCode(name); reserved {
				continue
			}
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

// Warnings reports conditions that generate but cannot validate. The same
// chemical at the same dose in two conditions yields parallel row blocks with
// repeated identifiers.
func (r Request) Warnings() []domain.FieldError {
	type pair struct{ chemical, dose string }
	first := make(map[pair]int)
	var out []domain.FieldError
	for i, cond := range r.Exposure {
		dose := strings.TrimSpace(cond.Dose)
		var seen []string
		for _, name := range cond.Chemicals {
			if _, reserved := identifier.ReservedCode(name); reserved || slices.Contains(seen, name) {
				continue
			}
			seen = append(seen, name)
			key := pair{name, dose}
			if j, dup := first[key]; dup {
				out = append(out, domain.FieldError{Label: RequestLabel, Field: fmt.Sprintf("exposure[%d].chemicals", i),
					Message: fmt.Sprintf("%s at dose %s is already listed in exposure[%d]; the generated file will not validate.", name, dose, j)})
				continue
			}
			first[key] = i
		}
	}
	return out
}

// FileName is the workbook name <partner>_<organism>_<batch>.xlsx.
func (r Request) FileName() string {
	return fmt.Sprintf("%s_%s_%s.xlsx", r.Partner, r.Organism, r.ExposureBatch)
}

// check validates req and returns a normalised copy. Fields already rejected
// by the decoder are not reported again.
func check(in Request, decoded ...domain.FieldError) (Request, error) {
	req := in
	req.Timepoints = slices.Clone(in.Timepoints)
	req.Exposure = make([]Condition, len(in.Exposure))
	for i, cond := range in.Exposure {
		req.Exposure[i] = Condition{Chemicals: slices.Clone(cond.Chemicals), Dose: strings.TrimSpace(cond.Dose)}
	}
	if in.Exposure == nil {
		req.Exposure = nil
	}

	fields := decoded
	rejected := make(map[string]bool, len(decoded))
	for _, f := range decoded {
		rejected[f.Field] = true
	}
	for _, e := range schema.Struct(req) {
		if rejected[topLevel(e.Path)] {
			continue
		}
		fields = append(fields, domain.FieldError{Label: RequestLabel, Field: e.Path, Message: e.Message})
	}
	if len(fields) > 0 {
		return Request{}, domain.NewInputError(domain.ErrInvalidRequest, fields...)
	}

	for i := range req.Exposure {
		cond := &req.Exposure[i]
		var chemicals []string
		for _, name := range cond.Chemicals {
			if _, reserved := identifier.ReservedCode(name); reserved {
				fields = append(fields, domain.FieldError{Label: RequestLabel, Field: fmt.Sprintf("exposure[%d].chemicals", i),
					Message: fmt.Sprintf("%s is reserved for controls and blanks.", name)})
				continue
			}
			if !slices.Contains(chemicals, name) {
				chemicals = append(chemicals, name)
			}
		}
		cond.Chemicals = chemicals
	}
	seen := make(map[int]bool, len(req.Timepoints))
	for _, tp := range req.Timepoints {
		if seen[tp] {
			fields = append(fields, domain.FieldError{Label: RequestLabel, Field: "timepoints", Message: fmt.Sprintf("Timepoint %d is listed twice.", tp)})
		}
		seen[tp] = true
	}
	if req.EndDate.Before(req.StartDate) {
		fields = append(fields, domain.FieldError{Label: RequestLabel, Field: "end_date", Message: "End date must not be before the start date."})
	}
	if len(fields) > 0 {
		return Request{}, domain.NewInputError(domain.ErrInvalidRequest, fields...)
	}

	vehicle, ok := identifier.CanonicalVehicle(req.Vehicle)
	if !ok {
		return Request{}, domain.NewInputError(domain.ErrInvalidVehicle, domain.FieldError{
			Label: RequestLabel, Field: "vehicle",
			Message: fmt.Sprintf("Vehicle %q must be %s or %s.", req.Vehicle, identifier.VehicleDMSO, identifier.VehicleWater),
		})
	}
	req.Vehicle = vehicle

	window := int(req.EndDate.Sub(req.StartDate) / time.Hour)
	if latest := slices.Max(req.Timepoints); latest > window {
		return Request{}, domain.NewInputError(domain.ErrTimepointOutOfRange, domain.FieldError{
			Label: RequestLabel, Field: "timepoints",
			Message: fmt.Sprintf("Timepoint %d hours exceeds the %d hours between start and end date.", latest, window),
		})
	}
	return req, nil
}

// topLevel returns the request key a field path starts with.
func topLevel(path string) string {
	if i := strings.IndexAny(path, ".["); i >= 0 {
		return path[:i]
	}
	return path
}
