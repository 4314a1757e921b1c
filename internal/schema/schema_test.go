package schema

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSchema_Normalize(t *testing.T) {
	tests := []struct {
		name, plural       string
		wantName, wantPlur string
	}{
		{"car", "", "car", "cars"},
		{"Aquarium", "", "aquarium", "aquariums"},
		{"Person", "PEOPLE", "person", "people"},
		{"  fish ", "  ", "fish", "fishs"},
	}
	for _, tt := range tests {
		s := &Schema{Name: tt.name, NamePlural: tt.plural}
		s.Normalize()
		if s.Name != tt.wantName || s.NamePlural != tt.wantPlur {
			t.Errorf("Normalize(%q, %q) = (%q, %q), want (%q, %q)",
				tt.name, tt.plural, s.Name, s.NamePlural, tt.wantName, tt.wantPlur)
		}
	}
}

func TestSchema_Validate(t *testing.T) {
	if err := (&Schema{Name: "car"}).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if err := (&Schema{Name: " "}).Validate(); !errors.Is(err, ErrBlankName) {
		t.Errorf("Validate() = %v, want ErrBlankName", err)
	}
}

func TestSchema_ValidateLength(t *testing.T) {
	long := strings.Repeat("x", MaxNameLength)
	tests := []struct {
		name, plural string
		wantFields   []string
	}{
		{long[:MaxNameLength-1], "", nil},
		{long, "xs", nil},
		{long, "", []string{"name_plural"}},
		{long + "x", "xs", []string{"name"}},
		{"car", long + "s", []string{"name_plural"}},
		{long + "x", long + "x", []string{"name", "name_plural"}},
	}
	for _, tt := range tests {
		err := (&Schema{Name: tt.name, NamePlural: tt.plural}).Validate()
		if tt.wantFields == nil {
			if err != nil {
				t.Errorf("Validate(%d, %d chars) = %v, want nil", len(tt.name), len(tt.plural), err)
			}
			continue
		}
		fe, ok := AsFieldErrors(err)
		if !ok {
			t.Errorf("Validate(%d, %d chars) = %v, want *FieldErrors", len(tt.name), len(tt.plural), err)
			continue
		}
		got := fe.Fields()
		if strings.Join(got, ",") != strings.Join(tt.wantFields, ",") {
			t.Errorf("Validate(%d, %d chars) fields = %v, want %v", len(tt.name), len(tt.plural), got, tt.wantFields)
		}
		if !errors.Is(err, ErrTooLong) {
			t.Errorf("error does not wrap ErrTooLong: %v", err)
		}
	}
}

func TestSchema_Touch(t *testing.T) {
	s := &Schema{Name: "car"}
	t1 := time.Date(2018, 2, 1, 10, 0, 0, 0, time.UTC)
	s.Touch(t1)
	t2 := t1.Add(time.Hour)
	s.Touch(t2)
	if !s.CreatedAt.Equal(t1) {
		t.Errorf("CreatedAt = %v, want %v", s.CreatedAt, t1)
	}
	if !s.UpdatedAt.Equal(t2) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, t2)
	}
}

func TestSchema_Field(t *testing.T) {
	s := &Schema{Name: "car", Fields: []*FieldSpec{{Name: "make"}, {Name: "mileage"}}}
	if f := s.Field("mileage"); f == nil || f.Name != "mileage" {
		t.Errorf("Field(mileage) = %v", f)
	}
	if f := s.Field("color"); f != nil {
		t.Errorf("Field(color) = %v, want nil", f)
	}
	names := s.FieldNames()
	if len(names) != 2 || names[0] != "make" || names[1] != "mileage" {
		t.Errorf("FieldNames() = %v", names)
	}
}

func TestFieldErrors_JSON(t *testing.T) {
	var errs FieldErrors
	errs.Add("volume", ErrInvalidName, "first")
	errs.Add("water", ErrInvalidChoices, "second")
	errs.Add("volume", ErrInvalidType, "third")

	data, err := errs.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() failed: %v", err)
	}
	want := `{"volume":["first","third"],"water":["second"]}`
	if string(data) != want {
		t.Errorf("MarshalJSON() = %s, want %s", data, want)
	}

	if !errors.Is(errs.Err(), ErrInvalidChoices) {
		t.Error("errors.Is did not find ErrInvalidChoices")
	}

	var empty FieldErrors
	if empty.Err() != nil {
		t.Error("empty FieldErrors.Err() should be nil")
	}
}
