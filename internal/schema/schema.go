// Package schema provides the data structures for user-defined record types.
package schema

import (
	"strings"
	"time"
)

// Schema is a named, user-defined record type composed of FieldSpecs.
type Schema struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	NamePlural string       `json:"name_plural"`
	Fields     []*FieldSpec `json:"field_definitions"`

	// Generation counts field changes. Storage bumps it on every field
	// save or removal.
	Generation int64 `json:"-"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Summary is the read-only list view of a schema.
type Summary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Normalize lowercases both names and derives a blank plural as name + "s".
// It runs on every save.
func (s *Schema) Normalize() {
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	s.NamePlural = strings.TrimSpace(s.NamePlural)
	if s.NamePlural == "" {
		s.NamePlural = s.Name + "s"
	}
	s.NamePlural = strings.ToLower(s.NamePlural)
}

// Validate checks the schema's own attributes; fields are validated one
// by one with ValidateFieldSpec.
func (s *Schema) Validate() error {
	var errs FieldErrors
	checkNames(&errs, s.Name, s.NamePlural)
	return errs.Err()
}

// checkNames validates a schema name and plural as Normalize will store
// them, so a derived plural is held to the same length limit.
func checkNames(errs *FieldErrors, name, plural string) {
	name = strings.TrimSpace(name)
	if name == "" {
		errs.Add("name", ErrBlankName, "This field may not be blank.")
	} else if tooLong(name) {
		errs.Add("name", ErrTooLong, msgTooLong)
	}

	plural = strings.TrimSpace(plural)
	if plural == "" && name != "" {
		plural = name + "s"
	}
	if tooLong(plural) {
		errs.Add("name_plural", ErrTooLong, msgTooLong)
	}
}

// Field returns the field named name, or nil.
func (s *Schema) Field(name string) *FieldSpec {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldNames returns field names in definition order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Summary returns the list view of s.
func (s *Schema) Summary() Summary {
	return Summary{ID: s.ID, Name: s.Name}
}

// Touch sets UpdatedAt, and CreatedAt when unset, to now.
func (s *Schema) Touch(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

func (s *Schema) String() string {
	return titleWord(s.Name)
}
