package identifier

import (
	"strings"

	"golang.org/x/text/cases"

	"ptxmeta/pkg/domain"
)

// Canonical names bound to the reserved compound codes.
const (
	NameControlWater    = "CONTROL (Water)"
	NameExtractionBlank = "EXTRACTION BLANK"
	NameControlDMSO     = "CONTROL (DMSO)"
)

// Canonical vehicle names.
const (
	VehicleWater = "Water"
	VehicleDMSO  = "DMSO"
)

// fold returns the case-folded form of s. A Caser is not safe for
// concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}

var reservedNames = map[int]string{
	domain.CodeWater: NameControlWater,
	domain.CodeBlank: NameExtractionBlank,
	domain.CodeDMSO:  NameControlDMSO,
}

// Reserved reports whether code is one of 997, 998, 999.
func Reserved(code int) bool {
	_, ok := reservedNames[code]
	return ok
}

// ReservedName returns the canonical compound name for a reserved code.
func ReservedName(code int) (string, bool) {
	name, ok := reservedNames[code]
	return name, ok
}

// ReservedCode resolves a compound name to its reserved code, ignoring case
// and surrounding whitespace.
func ReservedCode(name string) (int, bool) {
	key := fold(strings.TrimSpace(name))
	for code, canonical := range reservedNames {
		if fold(canonical) == key {
			return code, true
		}
	}
	return 0, false
}

// IsBlank reports whether name denotes an extraction blank.
func IsBlank(name string) bool {
	code, ok := ReservedCode(name)
	return ok && code == domain.CodeBlank
}

// IsControl reports whether name denotes a vehicle control.
func IsControl(name string) bool {
	return strings.Contains(fold(name), fold("CONTROL"))
}

// CanonicalVehicle maps a vehicle name to Water or DMSO.
func CanonicalVehicle(name string) (string, bool) {
	key := fold(strings.TrimSpace(name))
	switch key {
	case fold(VehicleWater):
		return VehicleWater, true
	case fold(VehicleDMSO):
		return VehicleDMSO, true
	}
	return "", false
}

// VehicleCode returns the control compound code for a vehicle.
func VehicleCode(vehicle string) (int, bool) {
	canonical, ok := CanonicalVehicle(vehicle)
	if !ok {
		return 0, false
	}
	if canonical == VehicleDMSO {
		return domain.CodeDMSO, true
	}
	return domain.CodeWater, true
}

// ControlName returns the control compound name for a vehicle.
func ControlName(vehicle string) (string, bool) {
	code, ok := VehicleCode(vehicle)
	if !ok {
		return "", false
	}
	return reservedNames[code], true
}
