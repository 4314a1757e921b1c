package projection

// Storage classes of the persisted field-definition record.
const (
	ClassInteger = "IntegerField"
	ClassText    = "TextField"
	ClassChar    = "CharField"
	ClassDate    = "DateField"
)

var classForKind = map[Kind]string{
	KindInteger: ClassInteger,
	KindString:  ClassText,
	KindEnum:    ClassChar,
	KindDate:    ClassDate,
}

// Definition is the persisted field-definition record:
// {class, name, kwargs: {blank, choices?, null?}}.
type Definition struct {
	Class  string           `json:"class" yaml:"class"`
	Name   string           `json:"name" yaml:"name"`
	Kwargs DefinitionKwargs `json:"kwargs" yaml:"kwargs"`
}

// DefinitionKwargs holds the storage options of a Definition. Null is only
// emitted for nullable fields and Choices only for enums.
type DefinitionKwargs struct {
	Blank   bool        `json:"blank" yaml:"blank"`
	Choices [][2]string `json:"choices,omitempty" yaml:"choices,omitempty"`
	Null    bool        `json:"null,omitempty" yaml:"null,omitempty"`
}

// Definition renders d as a storage definition record.
func (d *FieldDescriptor) Definition() Definition {
	def := Definition{
		Class: classForKind[d.Kind],
		Name:  d.Name,
		Kwargs: DefinitionKwargs{
			Blank: d.Blank,
			Null:  d.Nullable,
		},
	}
	if len(d.AllowedValues) > 0 {
		def.Kwargs.Choices = make([][2]string, 0, len(d.AllowedValues))
		for _, c := range d.AllowedValues {
			def.Kwargs.Choices = append(def.Kwargs.Choices, [2]string{c.Value, c.Label})
		}
	}
	return def
}

// Definitions renders every descriptor of the set.
func (ds *DescriptorSet) Definitions() []Definition {
	defs := make([]Definition, 0, len(ds.fields))
	for i := range ds.fields {
		defs = append(defs, ds.fields[i].Definition())
	}
	return defs
}
