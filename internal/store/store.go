// Package store manages the instances of user-defined schemas.
//
// Every operation needs the schema's descriptor set active on the context
// (see projection.Activate). The store never looks a schema's fields up by
// itself; whatever the context carries is what payloads are checked
// against.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elasticmodels/elastic/internal/events"
	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
)

// Options configures a Store.
type Options struct {
	Notifier events.Notifier
	Now      func() time.Time
}

// Store is the instance store.
type Store struct {
	st       storage.Storage
	notifier events.Notifier
	now      func() time.Time
}

// New creates a store over st.
func New(st storage.Storage, opts Options) *Store {
	if opts.Notifier == nil {
		opts.Notifier = events.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{st: st, notifier: opts.Notifier, now: opts.Now}
}

// List returns every instance of s ordered by id.
func (s *Store) List(ctx context.Context, sc *schema.Schema) ([]*Instance, error) {
	ds, err := projection.ActiveFor(ctx, sc.ID)
	if err != nil {
		return nil, err
	}

	stored, err := s.st.ListInstances(ctx, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", sc.NamePlural, err)
	}

	out := make([]*Instance, 0, len(stored))
	for _, rec := range stored {
		inst, err := decode(ds, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Create validates payload and stores it. Nothing is written when
// validation fails; the error is then a *schema.FieldErrors.
func (s *Store) Create(ctx context.Context, sc *schema.Schema, payload map[string]any) (*Instance, error) {
	ds, err := projection.ActiveFor(ctx, sc.ID)
	if err != nil {
		return nil, err
	}

	values, err := ds.Validate(payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &storage.Instance{
		SchemaID:  sc.ID,
		Data:      ds.Encode(values),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.st.InsertInstance(ctx, rec, ds.Generation); err != nil {
		return nil, storeError(sc, err)
	}

	s.notify(events.InstanceCreated, sc, rec.ID, now)
	return newInstance(ds, rec.ID, rec.CreatedAt, rec.UpdatedAt, values), nil
}

// Update replaces every field of instance id with payload. Validation is
// the same as Create; created_at is kept and updated_at moves to now.
func (s *Store) Update(ctx context.Context, sc *schema.Schema, id int64, payload map[string]any) (*Instance, error) {
	ds, err := projection.ActiveFor(ctx, sc.ID)
	if err != nil {
		return nil, err
	}

	current, err := s.st.GetInstance(ctx, sc.ID, id)
	if err != nil {
		return nil, err
	}
	values, err := ds.Validate(payload)
	if err != nil {
		return nil, err
	}
	return s.rewrite(ctx, sc, ds, current, values)
}

// PartialUpdate merges payload over the stored values of instance id and
// validates the result. Fields payload leaves out keep their values.
func (s *Store) PartialUpdate(ctx context.Context, sc *schema.Schema, id int64, payload map[string]any) (*Instance, error) {
	ds, err := projection.ActiveFor(ctx, sc.ID)
	if err != nil {
		return nil, err
	}

	current, err := s.st.GetInstance(ctx, sc.ID, id)
	if err != nil {
		return nil, err
	}
	merged, err := ds.Decode(current.Data)
	if err != nil {
		return nil, fmt.Errorf("instance %d: %w", id, err)
	}
	for k, v := range payload {
		merged[k] = v
	}
	values, err := ds.Validate(merged)
	if err != nil {
		return nil, err
	}
	return s.rewrite(ctx, sc, ds, current, values)
}

func (s *Store) rewrite(ctx context.Context, sc *schema.Schema, ds *projection.DescriptorSet, current *storage.Instance, values map[string]any) (*Instance, error) {
	now := s.now().UTC()
	rec := &storage.Instance{
		ID:        current.ID,
		SchemaID:  sc.ID,
		Data:      ds.Encode(values),
		CreatedAt: current.CreatedAt,
		UpdatedAt: now,
	}
	if err := s.st.UpdateInstance(ctx, rec, ds.Generation); err != nil {
		return nil, storeError(sc, err)
	}

	s.notify(events.InstanceUpdated, sc, rec.ID, now)
	return newInstance(ds, rec.ID, rec.CreatedAt, rec.UpdatedAt, values), nil
}

// Delete removes instance id of sc.
func (s *Store) Delete(ctx context.Context, sc *schema.Schema, id int64) error {
	if _, err := projection.ActiveFor(ctx, sc.ID); err != nil {
		return err
	}
	if err := s.st.DeleteInstance(ctx, sc.ID, id); err != nil {
		return err
	}
	s.notify(events.InstanceDeleted, sc, id, s.now().UTC())
	return nil
}

// Retrieve returns one instance of sc. Ids that belong to another schema
// are not found.
func (s *Store) Retrieve(ctx context.Context, sc *schema.Schema, id int64) (*Instance, error) {
	ds, err := projection.ActiveFor(ctx, sc.ID)
	if err != nil {
		return nil, err
	}

	rec, err := s.st.GetInstance(ctx, sc.ID, id)
	if err != nil {
		return nil, err
	}
	return decode(ds, rec)
}

// Count returns the number of stored instances of sc.
func (s *Store) Count(ctx context.Context, sc *schema.Schema) (int, error) {
	if _, err := projection.ActiveFor(ctx, sc.ID); err != nil {
		return 0, err
	}
	return s.st.CountInstances(ctx, sc.ID)
}

func (s *Store) notify(t events.Type, sc *schema.Schema, id int64, at time.Time) {
	s.notifier.Notify(events.Event{
		Type:       t,
		Timestamp:  at,
		SchemaID:   sc.ID,
		Schema:     sc.NamePlural,
		InstanceID: id,
	})
}

// storeError keeps not-found errors bare and turns a refused stale write
// into projection.ErrStaleSchema.
func storeError(sc *schema.Schema, err error) error {
	switch {
	case errors.Is(err, storage.ErrStale):
		return fmt.Errorf("%w: %s: %v", projection.ErrStaleSchema, sc.Name, err)
	case errors.Is(err, storage.ErrNotFound):
		return err
	}
	return fmt.Errorf("failed to store %s: %w", sc.Name, err)
}

func decode(ds *projection.DescriptorSet, rec *storage.Instance) (*Instance, error) {
	values, err := ds.Decode(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("instance %d: %w", rec.ID, err)
	}
	return newInstance(ds, rec.ID, rec.CreatedAt, rec.UpdatedAt, values), nil
}
