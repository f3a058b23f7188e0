// Package identifier encodes and decodes the compact sample identifier
// O B1B2 C1C2C3 D T R (organism, batch, compound, dose, timepoint, replicate).
//
// Encode is total on legal tuples; Decode is strict. Identifiers must not be
// sliced anywhere else.
package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ptxmeta/pkg/domain"
)

// Dose codes accepted in spreadsheets and requests.
const (
	DoseZero  = "0"
	DoseBMD10 = "BMD10"
	DoseBMD25 = "BMD25"
	DoseHigh  = "10mg/L"
)

// UnknownTimepoint is emitted for timepoint labels outside TP0..TP5.
const UnknownTimepoint = 'X'

// MaxTimepointLevel is the highest timepoint level an identifier encodes.
const MaxTimepointLevel = 5

// MinLength is the length of an identifier with a one-digit replicate.
const MinLength = 8

var (
	batchPattern     = regexp.MustCompile(`^[A-Z]{2}$`)
	timepointPattern = regexp.MustCompile(`^TP[0-5]$`)
)

var doseLetters = map[string]byte{
	DoseZero:  'Z',
	DoseBMD10: 'L',
	DoseBMD25: 'M',
	DoseHigh:  'H',
}

var timepointLetters = map[string]byte{
	"TP0": 'S',
	"TP1": 'A',
	"TP2": 'B',
	"TP3": 'C',
	"TP4": 'D',
	"TP5": 'E',
}

// ID is the decoded identifier tuple.
type ID struct {
	Organism  string `json:"organism"`
	Batch     string `json:"batch"`
	Compound  int    `json:"compound"`
	Dose      string `json:"dose"`
	Timepoint string `json:"timepoint"`
	Replicate int    `json:"replicate"`
}

// DoseCodes lists the accepted dose codes in canonical order.
func DoseCodes() []string {
	return []string{DoseZero, DoseBMD10, DoseBMD25, DoseHigh}
}

// ValidBatch reports whether batch is two uppercase letters.
func ValidBatch(batch string) bool {
	return batchPattern.MatchString(batch)
}

// ValidTimepointLevel reports whether level is one of TP0..TP5.
func ValidTimepointLevel(level string) bool {
	return timepointPattern.MatchString(level)
}

// TimepointLevel returns the label for the 1-based position of a timepoint in a file.
func TimepointLevel(index int) string {
	return "TP" + strconv.Itoa(index)
}

// DoseLetter maps a dose code to its identifier letter.
func DoseLetter(dose string) (byte, bool) {
	l, ok := doseLetters[strings.TrimSpace(dose)]
	return l, ok
}

// DoseFromLetter maps an identifier letter back to its dose code.
func DoseFromLetter(letter byte) (string, bool) {
	for dose, l := range doseLetters {
		if l == letter {
			return dose, true
		}
	}
	return "", false
}

// TimepointLetter maps a timepoint label to its identifier letter. Labels
// outside TP0..TP5 map to UnknownTimepoint with ok false.
func TimepointLetter(level string) (byte, bool) {
	l, ok := timepointLetters[level]
	if !ok {
		return UnknownTimepoint, false
	}
	return l, true
}

// TimepointFromLetter maps an identifier letter back to its timepoint label.
func TimepointFromLetter(letter byte) (string, bool) {
	for level, l := range timepointLetters {
		if l == letter {
			return level, true
		}
	}
	return "", false
}

// CompoundHash renders the spreadsheet compound hash for a code.
func CompoundHash(code int) string {
	return fmt.Sprintf("PTX%03d", code)
}

// ParseCompoundHash returns the numeric part of a compound hash.
func ParseCompoundHash(hash string) (int, error) {
	digits, ok := strings.CutPrefix(strings.TrimSpace(hash), "PTX")
	if !ok || len(digits) != 3 {
		return 0, fmt.Errorf("%w: compound hash %q", domain.ErrInvalidIdentifier, hash)
	}
	code, err := strconv.Atoi(digits)
	if err != nil || code < 1 {
		return 0, fmt.Errorf("%w: compound hash %q", domain.ErrInvalidIdentifier, hash)
	}
	return code, nil
}

// Encode renders id. Timepoint labels outside TP0..TP5 encode to X.
func Encode(id ID) (string, error) {
	if len(id.Organism) != 1 || id.Organism[0] < 'A' || id.Organism[0] > 'Z' {
		return "", fmt.Errorf("%w: organism code %q", domain.ErrInvalidIdentifier, id.Organism)
	}
	if !ValidBatch(id.Batch) {
		return "", fmt.Errorf("%w: batch %q", domain.ErrInvalidIdentifier, id.Batch)
	}
	if id.Compound < 1 || id.Compound > domain.CodeDMSO {
		return "", fmt.Errorf("%w: compound code %d", domain.ErrInvalidIdentifier, id.Compound)
	}
	dose, ok := DoseLetter(id.Dose)
	if !ok {
		return "", fmt.Errorf("%w: dose %q", domain.ErrInvalidIdentifier, id.Dose)
	}
	if id.Replicate < 1 {
		return "", fmt.Errorf("%w: replicate %d", domain.ErrInvalidIdentifier, id.Replicate)
	}
	tp, _ := TimepointLetter(id.Timepoint)

	var b strings.Builder
	b.Grow(MinLength + 2)
	b.WriteString(id.Organism)
	b.WriteString(id.Batch)
	fmt.Fprintf(&b, "%03d", id.Compound)
	b.WriteByte(dose)
	b.WriteByte(tp)
	b.WriteString(strconv.Itoa(id.Replicate))
	return b.String(), nil
}

// MustEncode is Encode for tuples already known to be legal.
func MustEncode(id ID) string {
	s, err := Encode(id)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses s strictly. Every segment must parse and the replicate must be
// a positive decimal without leading zeros.
func Decode(s string) (ID, error) {
	fail := func(reason string) (ID, error) {
		return ID{}, fmt.Errorf("%w: %q: %s", domain.ErrInvalidIdentifier, s, reason)
	}
	if len(s) < MinLength {
		return fail("too short")
	}
	if s[0] < 'A' || s[0] > 'Z' {
		return fail("organism code must be an uppercase letter")
	}
	batch := s[1:3]
	if !ValidBatch(batch) {
		return fail("batch must be two uppercase letters")
	}
	compound, err := strconv.Atoi(s[3:6])
	if err != nil || !isDigits(s[3:6]) || compound < 1 {
		return fail("compound code must be 001..999")
	}
	dose, ok := DoseFromLetter(s[6])
	if !ok {
		return fail("unknown dose code")
	}
	tp, ok := TimepointFromLetter(s[7])
	if !ok {
		return fail("unknown timepoint code")
	}
	rep := s[8:]
	if rep == "" || !isDigits(rep) || rep[0] == '0' {
		return fail("replicate must be a positive integer")
	}
	replicate, err := strconv.Atoi(rep)
	if err != nil {
		return fail("replicate must be a positive integer")
	}
	return ID{
		Organism:  s[:1],
		Batch:     batch,
		Compound:  compound,
		Dose:      dose,
		Timepoint: tp,
		Replicate: replicate,
	}, nil
}

// WithBatch returns id rebound to batch.
func (id ID) WithBatch(batch string) ID {
	id.Batch = batch
	return id
}

// String renders id, falling back to a debug form for illegal tuples.
func (id ID) String() string {
	s, err := Encode(id)
	if err != nil {
		return fmt.Sprintf("%s%s%03d?%s?%d", id.Organism, id.Batch, id.Compound, id.Timepoint, id.Replicate)
	}
	return s
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
