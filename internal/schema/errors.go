package schema

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Validation failures for field definitions.
//
// They are reported wrapped in a *FieldError so callers can match with
// errors.Is and still know which attribute was at fault:
//
//	if errors.Is(err, schema.ErrInvalidName) {
//	    // reject the request
//	}
var (
	// ErrInvalidName is returned when a field name contains anything other
	// than lowercase ASCII letters and underscores.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidChoices is returned when choices are not a list of unique strings.
	ErrInvalidChoices = errors.New("invalid choices")

	// ErrTypeChoiceMismatch is returned when an enum field has no choices
	// or a non-enum field has some.
	ErrTypeChoiceMismatch = errors.New("type and choices mismatch")

	// ErrInvalidType is returned for a field type outside number, text, enum and date.
	ErrInvalidType = errors.New("invalid field type")

	// ErrDuplicateField is returned when a schema already owns a field with the same name.
	ErrDuplicateField = errors.New("duplicate field")

	// ErrReservedName is returned for field names that collide with instance metadata.
	ErrReservedName = errors.New("reserved name")

	// ErrBlankName is returned when a schema is saved without a name.
	ErrBlankName = errors.New("blank name")

	// ErrTooLong is returned for a name or label over MaxNameLength characters.
	ErrTooLong = errors.New("value too long")
)

// MaxNameLength bounds schema names, plural names, field names and labels.
const MaxNameLength = 255

var msgTooLong = fmt.Sprintf("Ensure this field has no more than %d characters.", MaxNameLength)

func tooLong(s string) bool {
	return utf8.RuneCountInString(s) > MaxNameLength
}

// FieldError is a single validation failure attached to a named field.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// FieldErrors collects validation failures in the order they were found.
// It is the error type behind every user-correctable rejection.
type FieldErrors struct {
	errs []*FieldError
}

// Add records a failure for field. Err should be one of the package
// sentinels (or another package's) so errors.Is keeps working.
func (fe *FieldErrors) Add(field string, err error, message string) {
	fe.errs = append(fe.errs, &FieldError{Field: field, Message: message, Err: err})
}

// Merge appends all failures of other, prefixing their field names.
func (fe *FieldErrors) Merge(prefix string, other *FieldErrors) {
	if other == nil {
		return
	}
	for _, e := range other.errs {
		fe.errs = append(fe.errs, &FieldError{Field: prefix + e.Field, Message: e.Message, Err: e.Err})
	}
}

// Len returns the number of recorded failures.
func (fe *FieldErrors) Len() int {
	if fe == nil {
		return 0
	}
	return len(fe.errs)
}

// Err returns fe as an error, or nil when nothing was recorded.
func (fe *FieldErrors) Err() error {
	if fe.Len() == 0 {
		return nil
	}
	return fe
}

// Errors returns the recorded failures.
func (fe *FieldErrors) Errors() []*FieldError {
	return append([]*FieldError(nil), fe.errs...)
}

// Fields returns the distinct field names with failures, first-seen order.
func (fe *FieldErrors) Fields() []string {
	var fields []string
	seen := make(map[string]bool)
	for _, e := range fe.errs {
		if !seen[e.Field] {
			seen[e.Field] = true
			fields = append(fields, e.Field)
		}
	}
	return fields
}

// Has reports whether field has at least one failure.
func (fe *FieldErrors) Has(field string) bool {
	for _, e := range fe.errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Messages returns the failure messages recorded for field.
func (fe *FieldErrors) Messages(field string) []string {
	var msgs []string
	for _, e := range fe.errs {
		if e.Field == field {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

func (fe *FieldErrors) Error() string {
	parts := make([]string, 0, len(fe.errs))
	for _, e := range fe.errs {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every failure so errors.Is matches any of the sentinels.
func (fe *FieldErrors) Unwrap() []error {
	errs := make([]error, 0, len(fe.errs))
	for _, e := range fe.errs {
		errs = append(errs, e)
	}
	return errs
}

// MarshalJSON renders {"field": ["reason", ...], ...} keeping field order.
func (fe *FieldErrors) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range fe.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		msgs, err := json.Marshal(fe.Messages(field))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(msgs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AsFieldErrors extracts *FieldErrors from err.
func AsFieldErrors(err error) (*FieldErrors, bool) {
	var fe *FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
