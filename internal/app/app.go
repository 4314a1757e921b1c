// Package app wires the configured storage backend, registry, instance
// store and change feed together for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/elasticmodels/elastic/internal/api"
	"github.com/elasticmodels/elastic/internal/config"
	"github.com/elasticmodels/elastic/internal/logging"
	"github.com/elasticmodels/elastic/internal/registry"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
	"github.com/elasticmodels/elastic/internal/storage/bolt"
	"github.com/elasticmodels/elastic/internal/storage/sqlite"
	"github.com/elasticmodels/elastic/internal/store"
	elsync "github.com/elasticmodels/elastic/internal/sync"
)

// App holds the long-lived components of one process.
type App struct {
	Config   *config.Config
	Storage  storage.Storage
	Registry *registry.Registry
	Store    *store.Store
	Feed     *api.Feed
	Logs     *logging.Sink
}

// OpenStorage opens the backend named by cfg.
func OpenStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return sqlite.Open(cfg.Path, sqlite.Options{Driver: cfg.Driver, BusyTimeout: cfg.BusyTimeout})
	case config.BackendBolt:
		return bolt.Open(cfg.Path, bolt.Options{Timeout: cfg.BusyTimeout})
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// Open builds an App from cfg. The caller MUST call Close.
func Open(cfg *config.Config, logs *logging.Sink) (*App, error) {
	if logs == nil {
		logs = logging.Discard()
	}

	st, err := OpenStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	feed := api.NewFeed(logs.Logger("feed"))
	return &App{
		Config:  cfg,
		Storage: st,
		Registry: registry.New(st, registry.Options{
			Policy:   cfg.Fields.OnChange,
			Notifier: feed,
			Logger:   logs.Logger("registry"),
		}),
		Store: store.New(st, store.Options{Notifier: feed}),
		Feed:  feed,
		Logs:  logs,
	}, nil
}

// Logger returns a component logger on the shared sink.
func (a *App) Logger(component string) *log.Logger {
	return a.Logs.Logger(component)
}

// Syncer returns a definition syncer over the registry.
func (a *App) Syncer() elsync.Syncer {
	return elsync.New(a.Registry, elsync.Options{
		Prune:  a.Config.Definitions.Prune,
		Logger: a.Logger("sync"),
	})
}

// ResolveSchema finds a schema by numeric id or plural name.
func (a *App) ResolveSchema(ctx context.Context, ref string) (*schema.Schema, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		sc, err := a.Registry.GetSchemaDetail(ctx, id)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return sc, err
		}
	}
	return a.Registry.FindByPluralName(ctx, ref)
}

// Close releases the storage backend and the log file.
func (a *App) Close() error {
	return errors.Join(a.Storage.Close(), a.Logs.Close())
}
