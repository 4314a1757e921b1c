// Package storage defines the durable store behind the registry and the
// instance store. Backends live in the sqlite and bolt subpackages and
// must pass storagetest.Run.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/elasticmodels/elastic/internal/schema"
)

var (
	// ErrNotFound is returned when a schema, field or instance does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a field name is already taken within its schema.
	ErrConflict = errors.New("conflict")

	// ErrStale is returned when an instance write names a field-set
	// generation the schema has since moved past.
	ErrStale = errors.New("stale schema generation")
)

// Instance is one stored record. Data holds canonical wire values only:
// integers, strings, YYYY-MM-DD strings and nil.
type Instance struct {
	ID        int64
	SchemaID  int64
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeepFunc decides whether a stored payload survives a field change.
// A nil KeepFunc removes every instance.
type KeepFunc func(data map[string]any) bool

// Stats summarizes the contents of a store.
type Stats struct {
	Backend   string `json:"backend"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Schemas   int    `json:"schemas"`
	Fields    int    `json:"fields"`
	Instances int    `json:"instances"`
}

// Storage is implemented by every backend.
//
// Schemas are returned with their fields ordered by field id. Timestamps are
// set by the caller; backends store them as given.
//
// Every schema carries a generation that SaveFieldSpec and DeleteFieldSpec
// increment in the same transaction as the field change. Instance writes
// name the generation their payload was validated against and are refused
// with ErrStale once it is out of date, so no payload checked against an
// old field set lands after the prune.
type Storage interface {
	// CreateSchema inserts s without fields and assigns s.ID.
	CreateSchema(ctx context.Context, s *schema.Schema) error
	// UpdateSchema rewrites name, plural and updated_at of an existing schema.
	UpdateSchema(ctx context.Context, s *schema.Schema) error
	// DeleteSchema removes the schema with its fields and instances.
	DeleteSchema(ctx context.Context, id int64) error
	GetSchema(ctx context.Context, id int64) (*schema.Schema, error)
	// FindSchemaByPlural returns the lowest-id schema with the given plural.
	FindSchemaByPlural(ctx context.Context, plural string) (*schema.Schema, error)
	// ListSchemas returns every schema ordered by id.
	ListSchemas(ctx context.Context) ([]*schema.Schema, error)

	// SaveFieldSpec inserts spec (ID == 0) or updates it by ID, then deletes
	// the schema's instances keep rejects, all in one transaction. It
	// returns the number of instances removed.
	SaveFieldSpec(ctx context.Context, spec *schema.FieldSpec, keep KeepFunc) (int, error)
	// DeleteFieldSpec removes a field by name. Instances are left untouched.
	DeleteFieldSpec(ctx context.Context, schemaID int64, name string) error

	// InsertInstance stores inst and assigns inst.ID.
	InsertInstance(ctx context.Context, inst *Instance, generation int64) error
	// UpdateInstance replaces the payload and updated_at of an existing
	// instance of inst.SchemaID. CreatedAt is left as stored.
	UpdateInstance(ctx context.Context, inst *Instance, generation int64) error
	// DeleteInstance removes one instance of a schema.
	DeleteInstance(ctx context.Context, schemaID, id int64) error
	// ListInstances returns a schema's instances ordered by id.
	ListInstances(ctx context.Context, schemaID int64) ([]*Instance, error)
	// GetInstance returns ErrNotFound for ids owned by another schema.
	GetInstance(ctx context.Context, schemaID, id int64) (*Instance, error)
	CountInstances(ctx context.Context, schemaID int64) (int, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
