// Package projection turns a schema's field definitions into runtime
// descriptors and validates instance payloads against them.
//
// # Descriptors
//
// BuildDescriptors maps every FieldSpec onto a FieldDescriptor:
//
//	number -> integer   (nullable when blank)
//	text   -> string    ("" allowed when blank)
//	enum   -> enum      (string restricted to the choices)
//	date   -> date      (nullable when blank)
//
// FieldDescriptor.Definition renders the persisted record shape
// {class, name, kwargs} used by the schema show --definitions command.
//
// # Active set
//
// Instance operations never consult global state. The caller activates a
// schema on a context and passes it down:
//
//	ctx = projection.Activate(ctx, aquarium)
//	ds, err := projection.Active(ctx)
//
// Two requests for different schemas each carry their own set.
//
// # Validation
//
// DescriptorSet.Validate runs a single loop over the descriptors. The
// per-kind coercion lives in a table so adding a type means adding one
// entry, not another branch of the loop.
package projection
