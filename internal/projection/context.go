package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/elasticmodels/elastic/internal/schema"
)

var (
	// ErrNoActiveSchema is returned when an instance operation runs without
	// a descriptor set in its context.
	ErrNoActiveSchema = errors.New("no active schema")

	// ErrSchemaMismatch is returned when the active descriptor set belongs
	// to a different schema than the one being operated on.
	ErrSchemaMismatch = errors.New("active schema mismatch")

	// ErrStaleSchema is returned when the active descriptor set was built
	// from a field set that has since been changed. It is also an
	// ErrSchemaMismatch.
	ErrStaleSchema = fmt.Errorf("%w: fields changed since activation", ErrSchemaMismatch)
)

type activeKey struct{}

// Activate returns a context carrying the descriptor set of s.
func Activate(ctx context.Context, s *schema.Schema) context.Context {
	return ActivateDescriptors(ctx, BuildDescriptors(s))
}

// ActivateDescriptors returns a context carrying an already built set.
func ActivateDescriptors(ctx context.Context, ds *DescriptorSet) context.Context {
	return context.WithValue(ctx, activeKey{}, ds)
}

// Deactivate masks any descriptor set active in ctx.
func Deactivate(ctx context.Context) context.Context {
	return context.WithValue(ctx, activeKey{}, (*DescriptorSet)(nil))
}

// Active returns the descriptor set carried by ctx.
func Active(ctx context.Context) (*DescriptorSet, error) {
	ds, _ := ctx.Value(activeKey{}).(*DescriptorSet)
	if ds == nil {
		return nil, ErrNoActiveSchema
	}
	return ds, nil
}

// ActiveFor is Active plus a check that the set belongs to schemaID.
func ActiveFor(ctx context.Context, schemaID int64) (*DescriptorSet, error) {
	ds, err := Active(ctx)
	if err != nil {
		return nil, err
	}
	if ds.SchemaID != schemaID {
		return nil, fmt.Errorf("%w: active %d, want %d", ErrSchemaMismatch, ds.SchemaID, schemaID)
	}
	return ds, nil
}

// WithSchema runs fn with s active. The set is dropped when fn returns
// since it only ever lives in the derived context.
func WithSchema(ctx context.Context, s *schema.Schema, fn func(ctx context.Context) error) error {
	return fn(Activate(ctx, s))
}
