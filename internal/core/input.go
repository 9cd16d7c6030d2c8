package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// NumericPolicy decides how out-of-range or non-numeric input is handled.
type NumericPolicy string

const (
	// NumericClamp coerces non-numeric input to zero and clamps to bounds.
	NumericClamp NumericPolicy = "clamp"
	// NumericReject fails with ValidationError instead.
	NumericReject NumericPolicy = "reject"
)

// UpdateMode decides what an update does with omitted fields.
type UpdateMode string

const (
	// UpdateReplace overwrites every mutable field; omitted fields become
	// empty, zero or unset. An omitted matricula is kept.
	UpdateReplace UpdateMode = "replace"
	// UpdatePatch leaves omitted fields untouched.
	UpdatePatch UpdateMode = "patch"
)

// Number is a loosely typed numeric input. It accepts JSON numbers and
// strings in Brazilian or international notation.
type Number struct {
	Value float64
	Valid bool   // false when the input was not numeric
	Raw   string // original text of a string or non-numeric input
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*n = Number{}

	var s string
	switch {
	case len(data) > 0 && data[0] == '"':
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n.Raw = s
		n.Value, n.Valid = ParseDecimal(s)
	case bytes.Equal(data, []byte("null")):
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			n.Raw = string(data)
			return nil
		}
		n.Value, n.Valid = f, true
	}
	return nil
}

// Num returns a valid Number holding v.
func Num(v float64) *Number {
	return &Number{Value: v, Valid: true}
}

// Flag is a loosely typed boolean input; see [CoerceFlag].
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Flag(CoerceFlag(v))
	return nil
}

// KeyList is a list of business keys. It accepts a JSON array or a
// comma-joined string.
type KeyList []string

// UnmarshalJSON implements json.Unmarshaler.
func (k *KeyList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = SplitKeys(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("originMatriculas: expected string or array of strings")
	}
	*k = SplitKeys(JoinKeys(list))
	return nil
}

// InfrastructureInput carries the service flags of a create or update.
// Nil fields were omitted by the caller.
type InfrastructureInput struct {
	Water           *Flag `json:"water"`
	Sewage          *Flag `json:"sewage"`
	Power           *Flag `json:"power"`
	Paving          *Flag `json:"paving"`
	StreetLighting  *Flag `json:"streetLighting"`
	WasteCollection *Flag `json:"wasteCollection"`
}

// apply overlays the supplied flags on base.
func (in *InfrastructureInput) apply(base InfrastructureProfile) InfrastructureProfile {
	if in == nil {
		return base
	}
	set := func(dst *bool, f *Flag) {
		if f != nil {
			*dst = bool(*f)
		}
	}
	set(&base.Water, in.Water)
	set(&base.Sewage, in.Sewage)
	set(&base.Power, in.Power)
	set(&base.Paving, in.Paving)
	set(&base.StreetLighting, in.StreetLighting)
	set(&base.WasteCollection, in.WasteCollection)
	return base
}

// RecordInput is the payload of a create or update. Nil fields were
// omitted by the caller; how omission is treated on update depends on
// the configured UpdateMode.
type RecordInput struct {
	Matricula            *string              `json:"matricula" validate:"omitempty,max=64"`
	ParentID             *string              `json:"parentId" validate:"omitempty,uuid"`
	PropertyType         *string              `json:"propertyType" validate:"omitempty,max=120"`
	Purpose              *string              `json:"purpose" validate:"omitempty,max=120"`
	TransferStatus       *string              `json:"transferStatus" validate:"omitempty,max=120"`
	PossessionType       *string              `json:"possessionType" validate:"omitempty,max=120"`
	BuildingUse          *string              `json:"buildingUse" validate:"omitempty,max=120"`
	Location             *string              `json:"location" validate:"omitempty,max=500"`
	Description          *string              `json:"description" validate:"omitempty,max=2000"`
	Area                 *Number              `json:"area"`
	AssessedValue        *Number              `json:"assessedValue"`
	Latitude             *Number              `json:"latitude"`
	Longitude            *Number              `json:"longitude"`
	Notes                *string              `json:"notes" validate:"omitempty,max=4000"`
	OriginMatriculas     *KeyList             `json:"originMatriculas" validate:"omitempty,max=50,dive,max=64"`
	RegistrationDocument *string              `json:"registrationDocument" validate:"omitempty,max=500"`
	Infrastructure       *InfrastructureInput `json:"infrastructure"`
}

// categoryName returns the supplied name for a category, or nil if omitted.
func (in RecordInput) categoryName(c Category) *string {
	switch c {
	case CategoryPropertyType:
		return in.PropertyType
	case CategoryPurpose:
		return in.Purpose
	case CategoryTransferStatus:
		return in.TransferStatus
	case CategoryPossessionType:
		return in.PossessionType
	case CategoryBuildingUse:
		return in.BuildingUse
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the structural rules of the input. requireMatricula is
// set on create.
func (in RecordInput) Validate(requireMatricula bool) error {
	if err := validate.Struct(in); err != nil {
		return validationFailure(err)
	}
	if in.Matricula != nil && strings.TrimSpace(*in.Matricula) == "" {
		return validationError("matricula must not be blank")
	}
	if requireMatricula && in.Matricula == nil {
		return validationError("matricula is required")
	}
	return nil
}

func validationFailure(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(KindValidation, err, "invalid input")
	}
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			parts[i] = fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param())
		} else {
			parts[i] = fmt.Sprintf("%s: %s", fe.Field(), fe.Tag())
		}
	}
	return newError(KindValidation, err, "invalid input (%s)", strings.Join(parts, ", "))
}

// recordValues is the fully normalized state written to the records table.
type recordValues struct {
	Matricula            string
	ParentID             *uuid.UUID
	References           map[Category]*int32
	Location             string
	Description          string
	Area                 float64
	AssessedValue        float64
	Latitude             float64
	Longitude            float64
	Notes                string
	OriginMatriculas     []string
	RegistrationDocument string
}

// normalize overlays the supplied fields on base, applying the numeric
// policy. Category names are not resolved here.
func (in RecordInput) normalize(base recordValues, policy NumericPolicy) (recordValues, error) {
	v := base
	v.References = make(map[Category]*int32, len(base.References))
	for k, id := range base.References {
		v.References[k] = id
	}

	if in.Matricula != nil {
		v.Matricula = strings.TrimSpace(*in.Matricula)
	}
	if in.ParentID != nil {
		v.ParentID = nil
		if s := strings.TrimSpace(*in.ParentID); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				return recordValues{}, validationError("parentId: %v", err)
			}
			v.ParentID = &id
		}
	}

	setText := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setText(&v.Location, in.Location)
	setText(&v.Description, in.Description)
	setText(&v.Notes, in.Notes)
	setText(&v.RegistrationDocument, in.RegistrationDocument)

	if in.OriginMatriculas != nil {
		v.OriginMatriculas = []string(*in.OriginMatriculas)
	}

	numbers := []struct {
		field  string
		in     *Number
		dst    *float64
		bounds Bounds
	}{
		{"area", in.Area, &v.Area, AreaBounds},
		{"assessedValue", in.AssessedValue, &v.AssessedValue, AssessedValueBounds},
		{"latitude", in.Latitude, &v.Latitude, LatitudeBounds},
		{"longitude", in.Longitude, &v.Longitude, LongitudeBounds},
	}
	for _, n := range numbers {
		if n.in == nil {
			continue
		}
		f, err := policy.apply(n.field, *n.in, n.bounds)
		if err != nil {
			return recordValues{}, err
		}
		*n.dst = f
	}

	return v, nil
}

// apply converts a numeric input to a storable value.
func (p NumericPolicy) apply(field string, n Number, b Bounds) (float64, error) {
	if !n.Valid {
		if p == NumericReject && strings.TrimSpace(n.Raw) != "" {
			return 0, validationError("%s: %q is not a number", field, n.Raw)
		}
		return 0, nil
	}
	if b.Contains(n.Value) {
		return n.Value, nil
	}
	if p == NumericReject {
		return 0, validationError("%s: %v is outside [%v, %v]", field, n.Value, b.Min, b.Max)
	}
	return b.Clamp(n.Value), nil
}

// ParseNumericPolicy validates a configured policy name.
func ParseNumericPolicy(s string) (NumericPolicy, error) {
	switch p := NumericPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case NumericClamp, NumericReject:
		return p, nil
	case "":
		return NumericClamp, nil
	}
	return "", fmt.Errorf("unknown numeric policy %q (want clamp or reject)", s)
}

// ParseUpdateMode validates a configured update mode name.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch m := UpdateMode(strings.ToLower(strings.TrimSpace(s))); m {
	case UpdateReplace, UpdatePatch:
		return m, nil
	case "":
		return UpdateReplace, nil
	}
	return "", fmt.Errorf("unknown update mode %q (want replace or patch)", s)
}
