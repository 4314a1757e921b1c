// Package registry manages schemas and their field definitions.
//
// Saving a field changes the shape every stored instance must have, so each
// save prunes the schema's instances in the same storage transaction. The
// Policy decides which instances go: all of them (PolicyWipe) or only the
// ones that no longer validate (PolicyRevalidate).
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/elasticmodels/elastic/internal/events"
	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
)

// Policy controls what happens to stored instances when a field is saved.
type Policy string

const (
	// PolicyWipe deletes every instance of the schema.
	PolicyWipe Policy = "wipe"
	// PolicyRevalidate deletes only instances that fail the new field set.
	PolicyRevalidate Policy = "revalidate"
)

// ParsePolicy accepts "wipe" or "revalidate"; empty means wipe.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyWipe:
		return PolicyWipe, nil
	case PolicyRevalidate:
		return PolicyRevalidate, nil
	}
	return "", fmt.Errorf("unknown field change policy %q (want wipe or revalidate)", s)
}

// Options configures a Registry.
type Options struct {
	Policy   Policy
	Notifier events.Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

// Registry is the schema registry. It is safe for concurrent use; all
// state lives in the storage backend.
type Registry struct {
	store    storage.Storage
	policy   Policy
	notifier events.Notifier
	logger   *log.Logger
	now      func() time.Time
}

// New creates a registry over st.
func New(st storage.Storage, opts Options) *Registry {
	if opts.Policy == "" {
		opts.Policy = PolicyWipe
	}
	if opts.Notifier == nil {
		opts.Notifier = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		store:    st,
		policy:   opts.Policy,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Policy returns the field change policy in effect.
func (r *Registry) Policy() Policy {
	return r.policy
}

// CreateSchema stores a new schema without fields. A blank plural becomes
// name + "s"; both names are lowercased.
func (r *Registry) CreateSchema(ctx context.Context, name, namePlural string) (*schema.Schema, error) {
	s := &schema.Schema{Name: name, NamePlural: namePlural, Fields: []*schema.FieldSpec{}}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Normalize()
	s.Touch(r.now().UTC())

	if err := r.store.CreateSchema(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create schema %s: %w", s.Name, err)
	}

	r.logger.Printf("created schema %s (id %d)", s.Name, s.ID)
	r.notify(events.Event{Type: events.SchemaChanged, SchemaID: s.ID, Schema: s.NamePlural, Action: events.ActionCreated})
	return s, nil
}

// UpdateSchema renames a schema. Instances are kept.
func (r *Registry) UpdateSchema(ctx context.Context, id int64, name, namePlural string) (*schema.Schema, error) {
	s, err := r.store.GetSchema(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Name, s.NamePlural = name, namePlural
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Normalize()
	s.Touch(r.now().UTC())

	if err := r.store.UpdateSchema(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to update schema %d: %w", id, err)
	}

	r.notify(events.Event{Type: events.SchemaChanged, SchemaID: s.ID, Schema: s.NamePlural, Action: events.ActionUpdated})
	return s, nil
}

// DeleteSchema removes a schema together with its fields and instances.
func (r *Registry) DeleteSchema(ctx context.Context, id int64) error {
	s, err := r.store.GetSchema(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteSchema(ctx, id); err != nil {
		return fmt.Errorf("failed to delete schema %d: %w", id, err)
	}

	r.logger.Printf("deleted schema %s (id %d)", s.Name, id)
	r.notify(events.Event{Type: events.SchemaChanged, SchemaID: id, Schema: s.NamePlural, Action: events.ActionDeleted})
	return nil
}

// AddFieldSpec validates spec, attaches it to the schema and prunes the
// schema's instances atomically. On validation failure nothing is written.
func (r *Registry) AddFieldSpec(ctx context.Context, schemaID int64, spec *schema.FieldSpec) (*schema.FieldSpec, error) {
	s, err := r.store.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, err
	}

	if err := checkFieldSpec(s, spec, 0); err != nil {
		return nil, err
	}

	saved := *spec
	saved.ID = 0
	saved.SchemaID = schemaID
	saved.Normalize()

	if err := r.save(ctx, s, &saved, events.ActionFieldAdded); err != nil {
		return nil, err
	}
	return &saved, nil
}

// UpdateFieldSpec replaces the field called name. An edit is a save, so
// instances are pruned exactly as on AddFieldSpec.
func (r *Registry) UpdateFieldSpec(ctx context.Context, schemaID int64, name string, spec *schema.FieldSpec) (*schema.FieldSpec, error) {
	s, err := r.store.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	existing := s.Field(name)
	if existing == nil {
		return nil, fmt.Errorf("field %q: %w", name, storage.ErrNotFound)
	}

	if err := checkFieldSpec(s, spec, existing.ID); err != nil {
		return nil, err
	}

	saved := *spec
	saved.ID = existing.ID
	saved.SchemaID = schemaID
	saved.Normalize()

	if err := r.save(ctx, s, &saved, events.ActionFieldUpdated); err != nil {
		return nil, err
	}
	return &saved, nil
}

// RemoveFieldSpec deletes a field. Stored instances are left as they are;
// the removed key is simply no longer read.
func (r *Registry) RemoveFieldSpec(ctx context.Context, schemaID int64, name string) error {
	s, err := r.store.GetSchema(ctx, schemaID)
	if err != nil {
		return err
	}
	if err := r.store.DeleteFieldSpec(ctx, schemaID, name); err != nil {
		return err
	}

	r.logger.Printf("removed field %s.%s", s.Name, name)
	r.notify(events.Event{Type: events.SchemaChanged, SchemaID: s.ID, Schema: s.NamePlural, Action: events.ActionFieldRemoved, Field: name})
	return nil
}

// FindByPluralName returns the lowest-id schema with the given plural name.
func (r *Registry) FindByPluralName(ctx context.Context, plural string) (*schema.Schema, error) {
	return r.store.FindSchemaByPlural(ctx, plural)
}

// ListSchemas returns the id and name of every schema, ordered by id.
func (r *Registry) ListSchemas(ctx context.Context) ([]schema.Summary, error) {
	all, err := r.store.ListSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	out := make([]schema.Summary, 0, len(all))
	for _, s := range all {
		out = append(out, s.Summary())
	}
	return out, nil
}

// GetSchemaDetail returns a schema with its ordered fields.
func (r *Registry) GetSchemaDetail(ctx context.Context, id int64) (*schema.Schema, error) {
	return r.store.GetSchema(ctx, id)
}

// Schemas returns every schema with its fields, ordered by id.
func (r *Registry) Schemas(ctx context.Context) ([]*schema.Schema, error) {
	return r.store.ListSchemas(ctx)
}

// checkFieldSpec runs ValidateFieldSpec plus the checks that need the
// owning schema. selfID is the id of the field being replaced, 0 on add.
func checkFieldSpec(s *schema.Schema, spec *schema.FieldSpec, selfID int64) error {
	if err := schema.ValidateFieldSpec(spec); err != nil {
		return err
	}

	var errs schema.FieldErrors
	if schema.IsReservedName(spec.Name) {
		errs.Add("name", schema.ErrReservedName, fmt.Sprintf("%q is reserved.", spec.Name))
	}
	if other := s.Field(spec.Name); other != nil && other.ID != selfID {
		errs.Add("name", schema.ErrDuplicateField, "Field with this name already exists.")
	}
	return errs.Err()
}

func (r *Registry) save(ctx context.Context, s *schema.Schema, spec *schema.FieldSpec, action string) error {
	removed, err := r.store.SaveFieldSpec(ctx, spec, r.keepFunc(s, spec))
	if errors.Is(err, storage.ErrConflict) {
		var errs schema.FieldErrors
		errs.Add("name", schema.ErrDuplicateField, "Field with this name already exists.")
		return &errs
	}
	if err != nil {
		return fmt.Errorf("failed to save field %s.%s: %w", s.Name, spec.Name, err)
	}

	r.logger.Printf("saved field %s.%s (%s), removed %d instance(s)", s.Name, spec.Name, r.policy, removed)
	r.notify(events.Event{Type: events.SchemaChanged, SchemaID: s.ID, Schema: s.NamePlural, Action: action, Field: spec.Name})
	if removed > 0 {
		r.notify(events.Event{Type: events.InstancesRemoved, SchemaID: s.ID, Schema: s.NamePlural, Removed: removed})
	}
	return nil
}

// keepFunc returns nil under PolicyWipe. Under PolicyRevalidate it checks
// stored payloads against the schema as it will be after the save.
func (r *Registry) keepFunc(s *schema.Schema, spec *schema.FieldSpec) storage.KeepFunc {
	if r.policy != PolicyRevalidate {
		return nil
	}

	next := *s
	next.Fields = make([]*schema.FieldSpec, 0, len(s.Fields)+1)
	replaced := false
	for _, f := range s.Fields {
		if spec.ID != 0 && f.ID == spec.ID {
			next.Fields = append(next.Fields, spec)
			replaced = true
			continue
		}
		next.Fields = append(next.Fields, f)
	}
	if !replaced {
		next.Fields = append(next.Fields, spec)
	}

	return projection.BuildDescriptors(&next).Conforms
}

func (r *Registry) notify(e events.Event) {
	e.Timestamp = r.now().UTC()
	r.notifier.Notify(e)
}
