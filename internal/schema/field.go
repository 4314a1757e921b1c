package schema

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeNumber FieldType = "number"
	TypeText   FieldType = "text"
	TypeEnum   FieldType = "enum"
	TypeDate   FieldType = "date"
)

// FieldTypes lists the supported types in display order.
var FieldTypes = []FieldType{TypeNumber, TypeText, TypeEnum, TypeDate}

// IsValid reports whether t is one of the supported field types.
func (t FieldType) IsValid() bool {
	switch t {
	case TypeNumber, TypeText, TypeEnum, TypeDate:
		return true
	}
	return false
}

// Title returns the display name of the type.
func (t FieldType) Title() string {
	return titleWord(string(t))
}

// ReservedNames are the instance metadata keys a field may not shadow.
var ReservedNames = []string{"id", "created_at", "updated_at"}

// IsReservedName reports whether name collides with instance metadata.
func IsReservedName(name string) bool {
	for _, r := range ReservedNames {
		if name == r {
			return true
		}
	}
	return false
}

// FieldSpec is one typed field definition belonging to a schema.
type FieldSpec struct {
	ID       int64     `json:"-"`
	SchemaID int64     `json:"-"`
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Blank    bool      `json:"blank"`
	Choices  []string  `json:"choices"`
}

// ValidateFieldSpec checks the shape of a proposed field definition.
//
// It has no side effects. A non-nil result is always *FieldErrors keyed by
// the offending attribute.
func ValidateFieldSpec(spec *FieldSpec) error {
	var errs FieldErrors

	switch err := ValidateFieldName(spec.Name); {
	case errors.Is(err, ErrTooLong):
		errs.Add("name", ErrTooLong, msgTooLong)
	case err != nil:
		errs.Add("name", ErrInvalidName, "Only lowercase letters and underscores are allowed.")
	}

	if tooLong(spec.Label) {
		errs.Add("label", ErrTooLong, msgTooLong)
	}

	if !spec.Type.IsValid() {
		errs.Add("type", ErrInvalidType, fmt.Sprintf("%q is not a valid choice.", spec.Type))
	}

	if err := ValidateChoices(spec.Choices); err != nil {
		errs.Add("choices", ErrInvalidChoices, "List items must be unique.")
	}

	// enum <=> non-empty choices; only meaningful for a known type
	if spec.Type.IsValid() {
		switch {
		case spec.Type == TypeEnum && len(spec.Choices) == 0:
			errs.Add("choices", ErrTypeChoiceMismatch, "Choices are required for Enum type.")
		case spec.Type != TypeEnum && len(spec.Choices) > 0:
			errs.Add("choices", ErrTypeChoiceMismatch, "Choices are allowed only for Enum type.")
		}
	}

	return errs.Err()
}

// ValidateFieldName accepts names made only of a-z and underscore, at
// most MaxNameLength long.
func ValidateFieldName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return ErrTooLong
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && c != '_' {
			return ErrInvalidName
		}
	}
	return nil
}

// ValidateChoices accepts a list of strings without duplicates.
func ValidateChoices(choices []string) error {
	seen := make(map[string]struct{}, len(choices))
	for _, c := range choices {
		if _, dup := seen[c]; dup {
			return ErrInvalidChoices
		}
		seen[c] = struct{}{}
	}
	return nil
}

// ParseChoices converts untyped input (decoded JSON, YAML or TOML) into a
// choices list. nil means no choices. Anything other than a list of
// strings fails with ErrInvalidChoices.
func ParseChoices(v any) ([]string, error) {
	switch vv := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, vv...), nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: list of strings expected", ErrInvalidChoices)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: list of strings expected", ErrInvalidChoices)
	}
}

// Normalize lowercases the name, derives a missing label and makes
// choices non-nil. It runs on every save.
func (f *FieldSpec) Normalize() {
	f.Name = strings.ToLower(f.Name)
	if f.Label == "" {
		f.Label = TitleLabel(f.Name)
	}
	if f.Choices == nil {
		f.Choices = []string{}
	}
}

// Equal reports whether two specs define the same field, ignoring ids.
func (f *FieldSpec) Equal(other *FieldSpec) bool {
	if f.Name != other.Name || f.Label != other.Label || f.Type != other.Type || f.Blank != other.Blank {
		return false
	}
	if len(f.Choices) != len(other.Choices) {
		return false
	}
	for i := range f.Choices {
		if f.Choices[i] != other.Choices[i] {
			return false
		}
	}
	return true
}

func (f *FieldSpec) String() string {
	return titleWord(f.Name)
}

// TitleLabel title-cases every underscore-separated word of name,
// so next_water_change becomes Next_Water_Change.
func TitleLabel(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, "_")
}

func titleWord(s string) string {
	// Casers keep state; never share one between goroutines.
	return cases.Title(language.Und).String(s)
}
