// Package sync applies schema definition files to the registry.
//
// A definition file declares one schema and its fields in JSON, YAML or
// TOML. Applying a file converges the registry onto it: the schema is
// created or renamed, new fields are added, changed fields are updated and
// fields missing from the file are removed. Each added or updated field is
// a field save, so it prunes the schema's instances under the registry's
// change policy. Re-applying an unchanged file touches nothing.
package sync

import (
	"context"

	"github.com/elasticmodels/elastic/internal/schema"
)

// Syncer keeps the registry in step with definition files.
//
// FullSync is resilient: a file that fails to parse or apply is logged and
// counted, and the remaining files are still applied.
type Syncer interface {
	// SyncFile reads, validates and applies one definition file.
	SyncFile(ctx context.Context, path string) (*Result, error)

	// Apply converges the registry onto def.
	Apply(ctx context.Context, def *schema.DefinitionFile) (*Result, error)

	// RemoveFile handles a deleted definition file. The matching schema is
	// only deleted when the syncer was created with Prune set.
	RemoveFile(ctx context.Context, path string) error

	// FullSync applies every definition file directly inside dir.
	FullSync(ctx context.Context, dir string) (*Summary, error)

	// Export writes one definition file per schema into dir.
	Export(ctx context.Context, dir string, format schema.Format) ([]string, error)
}

// Result describes what applying one definition changed.
type Result struct {
	Schema  *schema.Schema
	Created bool
	Renamed bool
	Added   []string
	Updated []string
	Removed []string
}

// Changed reports whether the registry was modified.
func (r *Result) Changed() bool {
	return r.Created || r.Renamed || len(r.Added) > 0 || len(r.Updated) > 0 || len(r.Removed) > 0
}

// Summary counts the outcome of a FullSync.
type Summary struct {
	Files   int `json:"files"`
	Applied int `json:"applied"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}
