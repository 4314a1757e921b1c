package projection

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/elasticmodels/elastic/internal/schema"
)

// Payload validation failures. Each is reported inside *schema.FieldErrors
// keyed by the payload field.
var (
	// ErrRequired is returned for a missing or null value of a required field.
	ErrRequired = errors.New("required")

	// ErrNotNull is returned for null on a blank field that cannot hold null.
	ErrNotNull = errors.New("not nullable")

	// ErrBlank is returned for "" on a required string or enum field.
	ErrBlank = errors.New("blank")

	// ErrInvalidInteger is returned when a value cannot be read as an integer.
	ErrInvalidInteger = errors.New("invalid integer")

	// ErrInvalidString is returned for values with no string form.
	ErrInvalidString = errors.New("invalid string")

	// ErrInvalidChoice is returned for an enum value outside the allowed set.
	ErrInvalidChoice = errors.New("invalid choice")

	// ErrInvalidDate is returned for anything but a YYYY-MM-DD calendar date.
	ErrInvalidDate = errors.New("invalid date")

	// ErrUnknownField is returned for payload keys the schema does not define.
	ErrUnknownField = errors.New("unknown field")
)

const (
	msgRequired       = "This field is required."
	msgNotNull        = "This field may not be null."
	msgBlank          = "This field may not be blank."
	msgInvalidInteger = "A valid integer is required."
	msgInvalidString  = "Not a valid string."
	msgInvalidDate    = "Date has wrong format. Use YYYY-MM-DD."
	msgUnknownField   = "Unknown field."
)

// failure is a rejected value: the sentinel plus its user-facing message.
type failure struct {
	err error
	msg string
}

// coercer converts a non-null, non-blank payload value into its native form.
type coercer func(d *FieldDescriptor, v any) (any, *failure)

// coercers is the strategy table behind Validate and Decode.
var coercers = map[Kind]coercer{
	KindInteger: coerceInteger,
	KindString:  coerceString,
	KindEnum:    coerceEnum,
	KindDate:    coerceDate,
}

// Validate checks payload against every descriptor and returns the coerced
// values keyed by field name. Every field of the set is present in the
// result; absent nullable fields map to nil.
//
// The read-only metadata keys id, created_at and updated_at are ignored.
// Any other key outside the set is rejected.
func (ds *DescriptorSet) Validate(payload map[string]any) (map[string]any, error) {
	var errs schema.FieldErrors
	out := make(map[string]any, len(ds.fields))

	for i := range ds.fields {
		d := &ds.fields[i]
		v, fail := d.coerce(payload[d.Name])
		if fail != nil {
			errs.Add(d.Name, fail.err, fail.msg)
			continue
		}
		out[d.Name] = v
	}

	var unknown []string
	for k := range payload {
		if _, ok := ds.index[k]; !ok && !schema.IsReservedName(k) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs.Add(k, ErrUnknownField, msgUnknownField)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *FieldDescriptor) coerce(v any) (any, *failure) {
	if v == nil {
		switch {
		case d.Nullable:
			return nil, nil
		case d.Required:
			return nil, &failure{ErrRequired, msgRequired}
		default:
			return nil, &failure{ErrNotNull, msgNotNull}
		}
	}

	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		switch {
		case d.Nullable:
			return nil, nil
		case d.Kind == KindString || d.Kind == KindEnum:
			if d.Blank {
				return "", nil
			}
			return nil, &failure{ErrBlank, msgBlank}
		}
	}

	c, ok := coercers[d.Kind]
	if !ok {
		return nil, &failure{ErrInvalidString, fmt.Sprintf("Unsupported field kind %s.", d.Kind)}
	}
	return c(d, v)
}

// numberLike covers json.Number from both encoding/json and goccy/go-json.
type numberLike interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

var integralString = regexp.MustCompile(`^(-?\d+)\.0*$`)

func coerceInteger(_ *FieldDescriptor, v any) (any, *failure) {
	invalid := &failure{ErrInvalidInteger, msgInvalidInteger}
	switch n := v.(type) {
	case bool:
		return nil, invalid
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case numberLike:
		return parseInteger(n.String())
	case string:
		return parseInteger(n)
	}
	return nil, invalid
}

func uintToInt64(n uint64) (any, *failure) {
	if n > math.MaxInt64 {
		return nil, &failure{ErrInvalidInteger, msgInvalidInteger}
	}
	return int64(n), nil
}

func floatToInt64(f float64) (any, *failure) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, &failure{ErrInvalidInteger, msgInvalidInteger}
	}
	return int64(f), nil
}

func parseInteger(s string) (any, *failure) {
	s = strings.TrimSpace(s)
	if m := integralString.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, &failure{ErrInvalidInteger, msgInvalidInteger}
	}
	return n, nil
}

// stringForm renders strings and numbers; ok is false for anything else.
func stringForm(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(s), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case numberLike:
		return s.String(), true
	}
	return "", false
}

func coerceString(_ *FieldDescriptor, v any) (any, *failure) {
	s, ok := stringForm(v)
	if !ok {
		return nil, &failure{ErrInvalidString, msgInvalidString}
	}
	return s, nil
}

func coerceEnum(d *FieldDescriptor, v any) (any, *failure) {
	s, ok := stringForm(v)
	if !ok || !d.Allows(s) {
		return nil, &failure{ErrInvalidChoice, fmt.Sprintf("%q is not a valid choice.", fmt.Sprint(v))}
	}
	return s, nil
}

func coerceDate(_ *FieldDescriptor, v any) (any, *failure) {
	switch t := v.(type) {
	case Date:
		return t, nil
	case string:
		d, err := ParseDate(strings.TrimSpace(t))
		if err == nil {
			return d, nil
		}
	}
	return nil, &failure{ErrInvalidDate, msgInvalidDate}
}

// Encode converts coerced values into canonical wire values: int64,
// string, "YYYY-MM-DD" or nil. Keys outside the set are dropped.
func (ds *DescriptorSet) Encode(values map[string]any) map[string]any {
	out := make(map[string]any, len(ds.fields))
	for _, d := range ds.fields {
		v, ok := values[d.Name]
		if !ok {
			continue
		}
		if date, isDate := v.(Date); isDate {
			out[d.Name] = date.String()
			continue
		}
		out[d.Name] = v
	}
	return out
}

// Decode converts a stored payload back into native kinds for exactly the
// descriptor keys. Missing keys decode to nil; stale keys are dropped.
func (ds *DescriptorSet) Decode(stored map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(ds.fields))
	for i := range ds.fields {
		d := &ds.fields[i]
		raw := stored[d.Name]
		if raw == nil {
			out[d.Name] = nil
			continue
		}
		if s, ok := raw.(string); ok && s == "" && (d.Kind == KindString || d.Kind == KindEnum) {
			out[d.Name] = ""
			continue
		}
		v, fail := coercers[d.Kind](d, raw)
		if fail != nil {
			return nil, fmt.Errorf("stored value of %s does not match schema %s: %w", d.Name, ds.SchemaName, fail.err)
		}
		out[d.Name] = v
	}
	return out, nil
}

// Conforms reports whether a stored payload still validates against ds.
// Keys the set no longer defines do not count against it.
func (ds *DescriptorSet) Conforms(stored map[string]any) bool {
	filtered := make(map[string]any, len(ds.fields))
	for _, d := range ds.fields {
		if v, ok := stored[d.Name]; ok {
			filtered[d.Name] = v
		}
	}
	_, err := ds.Validate(filtered)
	return err == nil
}
