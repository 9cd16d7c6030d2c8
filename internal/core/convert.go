package core

// convert.go provides conversion of loosely-typed user input to stored values.
//
// Property forms arrive from many sources and carry the usual noise:
//   - Brazilian and international number formats ("1.234,56", "1,234.56")
//   - Currency and unit suffixes ("R$ 10.000", "500 m²")
//   - Boolean flags sent as booleans, numbers, or words ("sim", "yes", "1")
//
// All ToPg* functions return pgtype values with Valid=false for empty input,
// allowing the database to store NULLs.

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates that a string is a plain decimal after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// numericNoise lists currency symbols and units stripped before parsing.
// Entries are lower case since input is lowered first.
var numericNoise = []string{"r$", "us$", "$", "€", "m²", "m2", "ha", " ", "\u00a0"}

// ParseDecimal parses a user-supplied number. Both "." and "," are accepted
// as decimal separators; when both appear, the rightmost one is the decimal
// separator and the other is a thousands separator. A value too large for
// float64 parses as ±Inf so range checks can clamp or reject it.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}
	for _, n := range numericNoise {
		s = strings.ReplaceAll(s, n, "")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if (err != nil && !errors.Is(err, strconv.ErrRange)) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Bounds is the inclusive range a numeric column may hold.
type Bounds struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Clamp forces v into the bounds.
func (b Bounds) Clamp(v float64) float64 {
	return math.Min(math.Max(v, b.Min), b.Max)
}

// Declared bounds of the numeric record columns.
var (
	AreaBounds          = Bounds{Min: 0, Max: 999999}
	AssessedValueBounds = Bounds{Min: 0, Max: 9999999}
	LatitudeBounds      = Bounds{Min: -90, Max: 90}
	LongitudeBounds     = Bounds{Min: -180, Max: 180}
)

// truthyWords are the string forms coerced to a set flag.
var truthyWords = map[string]bool{"1": true, "true": true, "sim": true, "yes": true}

// CoerceFlag converts a decoded JSON value to a boolean flag.
// true, any non-zero number, and the strings "1", "true", "sim", "yes"
// (case-insensitive) are set; everything else is unset.
func CoerceFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return truthyWords[strings.ToLower(strings.TrimSpace(t))]
	default:
		return false
	}
}

// JoinKeys joins business keys with commas, dropping blanks.
func JoinKeys(keys []string) string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return strings.Join(out, ",")
}

// SplitKeys is the inverse of JoinKeys.
func SplitKeys(s string) []string {
	out := []string{}
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgUUID converts a uuid pointer to pgtype.UUID.
// Returns invalid for nil.
func ToPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

// FromPgUUID converts a pgtype.UUID to a uuid pointer, nil when invalid.
func FromPgUUID(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

// PgUUIDToString converts a pgtype.UUID to its string representation.
// Returns empty string if the UUID is invalid.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
