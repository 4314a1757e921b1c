package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/elasticmodels/elastic/internal/registry"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
)

// Options configures New.
type Options struct {
	// Prune deletes a schema when its definition file is removed.
	Prune bool

	// Logger defaults to stderr with a [sync] prefix.
	Logger *log.Logger
}

// syncer implements the Syncer interface.
type syncer struct {
	reg    *registry.Registry
	prune  bool
	logger *log.Logger
}

// New creates a Syncer over reg.
//
// Example:
//
//	s := sync.New(reg, sync.Options{})
//	summary, err := s.FullSync(ctx, "definitions")
func New(reg *registry.Registry, opts Options) Syncer {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		reg:    reg,
		prune:  opts.Prune,
		logger: opts.Logger,
	}
}

// SyncFile implements Syncer.SyncFile.
func (s *syncer) SyncFile(ctx context.Context, path string) (*Result, error) {
	def, err := schema.ReadDefinitionFile(path)
	if err != nil {
		return nil, err
	}

	res, err := s.Apply(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", filepath.Base(path), err)
	}

	if res.Changed() {
		s.logger.Printf("Synced %s: %s", filepath.Base(path), describe(res))
	}
	return res, nil
}

// Apply implements Syncer.Apply.
func (s *syncer) Apply(ctx context.Context, def *schema.DefinitionFile) (*Result, error) {
	want, err := def.Schema()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	current, err := s.reg.FindByPluralName(ctx, want.NamePlural)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		created, err := s.reg.CreateSchema(ctx, want.Name, want.NamePlural)
		if err != nil {
			return nil, err
		}
		current = created
		res.Created = true
	case err != nil:
		return nil, err
	case current.Name != want.Name:
		if _, err := s.reg.UpdateSchema(ctx, current.ID, want.Name, want.NamePlural); err != nil {
			return nil, err
		}
		res.Renamed = true
	}

	for _, spec := range want.Fields {
		existing := current.Field(spec.Name)
		switch {
		case existing == nil:
			if _, err := s.reg.AddFieldSpec(ctx, current.ID, spec); err != nil {
				return nil, fmt.Errorf("field %s: %w", spec.Name, err)
			}
			res.Added = append(res.Added, spec.Name)
		case !existing.Equal(spec):
			if _, err := s.reg.UpdateFieldSpec(ctx, current.ID, spec.Name, spec); err != nil {
				return nil, fmt.Errorf("field %s: %w", spec.Name, err)
			}
			res.Updated = append(res.Updated, spec.Name)
		}
	}

	for _, f := range current.Fields {
		if want.Field(f.Name) != nil {
			continue
		}
		if err := s.reg.RemoveFieldSpec(ctx, current.ID, f.Name); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		res.Removed = append(res.Removed, f.Name)
	}

	res.Schema, err = s.reg.GetSchemaDetail(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RemoveFile implements Syncer.RemoveFile.
func (s *syncer) RemoveFile(ctx context.Context, path string) error {
	plural := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if !s.prune {
		s.logger.Printf("Definition %s removed; keeping schema %s (prune disabled)", filepath.Base(path), plural)
		return nil
	}

	sc, err := s.reg.FindByPluralName(ctx, strings.ToLower(plural))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.reg.DeleteSchema(ctx, sc.ID); err != nil {
		return fmt.Errorf("failed to delete schema %s: %w", sc.Name, err)
	}

	s.logger.Printf("Deleted schema %s (definition removed)", sc.Name)
	return nil
}

// FullSync implements Syncer.FullSync.
func (s *syncer) FullSync(ctx context.Context, dir string) (*Summary, error) {
	s.logger.Printf("Starting full sync from %s", dir)

	paths, err := schema.ListDefinitionFiles(dir)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Files: len(paths)}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := s.SyncFile(ctx, path)
		if err != nil {
			s.logger.Printf("WARNING: Failed to sync %s: %v", filepath.Base(path), err)
			summary.Failed++
			continue
		}
		summary.Applied++
		if res.Changed() {
			summary.Changed++
		}
	}

	s.logger.Printf("Full sync complete: files=%d applied=%d changed=%d failed=%d",
		summary.Files, summary.Applied, summary.Changed, summary.Failed)
	return summary, nil
}

// Export implements Syncer.Export.
func (s *syncer) Export(ctx context.Context, dir string, format schema.Format) ([]string, error) {
	schemas, err := s.reg.Schemas(ctx)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, sc := range schemas {
		path, err := schema.WriteDefinitionFile(dir, schema.DefinitionFromSchema(sc), format)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func describe(res *Result) string {
	var parts []string
	if res.Created {
		parts = append(parts, "created")
	}
	if res.Renamed {
		parts = append(parts, "renamed")
	}
	if len(res.Added) > 0 {
		parts = append(parts, "added "+strings.Join(res.Added, ","))
	}
	if len(res.Updated) > 0 {
		parts = append(parts, "updated "+strings.Join(res.Updated, ","))
	}
	if len(res.Removed) > 0 {
		parts = append(parts, "removed "+strings.Join(res.Removed, ","))
	}
	return res.Schema.Name + " " + strings.Join(parts, "; ")
}
