package projection

import (
	"github.com/elasticmodels/elastic/internal/schema"
)

// Kind is the native value kind a field is coerced to.
type Kind int

const (
	KindInteger Kind = iota
	KindString
	KindEnum
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

var kindForType = map[schema.FieldType]Kind{
	schema.TypeNumber: KindInteger,
	schema.TypeText:   KindString,
	schema.TypeEnum:   KindEnum,
	schema.TypeDate:   KindDate,
}

// Choice is one allowed value of an enum field.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldDescriptor is the runtime form of a FieldSpec used to validate and
// coerce payload values.
type FieldDescriptor struct {
	Name  string
	Label string
	Type  schema.FieldType
	Kind  Kind

	// Required is true unless the field is blank.
	Required bool
	// Nullable is true only for blank number and date fields. Blank text
	// and enum fields accept "" but never null.
	Nullable bool
	// Blank mirrors the FieldSpec flag; for string kinds it permits "".
	Blank bool

	// AllowedValues is set for enum fields only.
	AllowedValues []Choice
}

// Describe derives the descriptor of a single field.
func Describe(f *schema.FieldSpec) FieldDescriptor {
	d := FieldDescriptor{
		Name:     f.Name,
		Label:    f.Label,
		Type:     f.Type,
		Kind:     kindForType[f.Type],
		Required: !f.Blank,
		Nullable: f.Blank && (f.Type == schema.TypeNumber || f.Type == schema.TypeDate),
		Blank:    f.Blank,
	}
	if f.Type == schema.TypeEnum {
		d.AllowedValues = make([]Choice, 0, len(f.Choices))
		for _, c := range f.Choices {
			d.AllowedValues = append(d.AllowedValues, Choice{Value: c, Label: c})
		}
	}
	return d
}

// Allows reports whether v is one of the enum's allowed values.
func (d *FieldDescriptor) Allows(v string) bool {
	for _, c := range d.AllowedValues {
		if c.Value == v {
			return true
		}
	}
	return false
}

// DescriptorSet is the ordered descriptor list of one schema.
// It is immutable once built and safe to share between goroutines.
type DescriptorSet struct {
	SchemaID   int64
	SchemaName string
	// Generation is the schema's field-set generation the set was built
	// from. Writes made through the set are refused once it is behind.
	Generation int64

	fields []FieldDescriptor
	index  map[string]int
}

// BuildDescriptors projects every FieldSpec of s, in field order.
func BuildDescriptors(s *schema.Schema) *DescriptorSet {
	ds := &DescriptorSet{
		SchemaID:   s.ID,
		SchemaName: s.Name,
		Generation: s.Generation,
		fields:     make([]FieldDescriptor, 0, len(s.Fields)),
		index:      make(map[string]int, len(s.Fields)),
	}
	for _, f := range s.Fields {
		ds.index[f.Name] = len(ds.fields)
		ds.fields = append(ds.fields, Describe(f))
	}
	return ds
}

// Fields returns a copy of the descriptors in field order.
func (ds *DescriptorSet) Fields() []FieldDescriptor {
	return append([]FieldDescriptor(nil), ds.fields...)
}

// Field looks a descriptor up by field name.
func (ds *DescriptorSet) Field(name string) (FieldDescriptor, bool) {
	i, ok := ds.index[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return ds.fields[i], true
}

// Names returns the field names in order.
func (ds *DescriptorSet) Names() []string {
	names := make([]string, len(ds.fields))
	for i, d := range ds.fields {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of descriptors.
func (ds *DescriptorSet) Len() int {
	return len(ds.fields)
}
