// Package schema defines user-defined record types and their field definitions.
//
// # Overview
//
// A Schema is a named record type ("aquarium", "car") owning an ordered
// list of FieldSpecs. Each FieldSpec has a lowercase name, a display
// label, a type (number, text, enum or date), a blank flag and, for enums
// only, a list of choices.
//
// # Validation
//
// ValidateFieldSpec is the single entry point for checking a field
// definition. It never touches storage:
//
//	err := schema.ValidateFieldSpec(&schema.FieldSpec{
//	    Name:    "water",
//	    Type:    schema.TypeEnum,
//	    Choices: []string{"saltwater", "freshwater"},
//	})
//	if errors.Is(err, schema.ErrTypeChoiceMismatch) {
//	    // enum without choices, or choices on a non-enum field
//	}
//
// Failures come back as *FieldErrors, an ordered field -> reasons mapping
// that also renders as the JSON body of a 400 response.
//
// # Definition Files
//
// Schemas can be declared on disk, one file per schema, in JSON, YAML or
// TOML. The file name is {name_plural}.{ext}:
//
//	name: aquarium
//	fields:
//	  - name: volume
//	    type: number
//	  - name: water
//	    type: enum
//	    choices: [saltwater, freshwater]
//
// Reading a definition:
//
//	def, err := schema.ReadDefinitionFile("definitions/aquariums.yaml")
//	s, err := def.Schema()
//
// # Normalization
//
//   - Schema names and plural names are lowercased on every save
//   - A blank plural becomes name + "s"
//   - A blank label becomes the title-cased field name
package schema
