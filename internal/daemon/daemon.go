// Package daemon keeps the schema registry in step with a directory of
// definition files.
//
// The daemon:
//  1. Applies every definition file on startup
//  2. Watches the directory for created, written and removed files
//  3. Debounces bursts of events per file and re-applies the file
//  4. Optionally re-applies the whole directory on an interval
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	elsync "github.com/elasticmodels/elastic/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is applied.
	DebounceInterval time.Duration

	// ResyncInterval re-applies the whole directory periodically. Zero disables it.
	ResyncInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts the work done since Start.
type Stats struct {
	FullSyncs int
	Applied   int
	Removed   int
	Failed    int
}

// Daemon orchestrates file watching and registry synchronization.
type Daemon struct {
	syncer elsync.Syncer
	dir    string
	config *Config

	watcher       *FileWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon that applies the definition files in dir through s.
// Use Start to begin watching.
func New(s elsync.Syncer, dir string, config *Config) (*Daemon, error) {
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("definitions directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      s,
		dir:         dir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start performs a full sync, then watches the directory until ctx is
// cancelled. The directory is created if it does not exist.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("failed to create definitions directory: %w", err)
	}

	if err := d.PerformFullSync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := d.watcher.Start(d.dir); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.dir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.ResyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicResync()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the watcher down and waits for the background goroutines.
// A Daemon cannot be restarted after Stop.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		err = d.watcher.Stop()
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// PerformFullSync applies every definition file in the directory.
func (d *Daemon) PerformFullSync(ctx context.Context) error {
	summary, err := d.syncer.FullSync(ctx, d.dir)
	if err != nil {
		return err
	}

	d.statsMu.Lock()
	d.stats.FullSyncs++
	d.stats.Applied += summary.Applied
	d.stats.Failed += summary.Failed
	d.statsMu.Unlock()
	return nil
}

// Stats returns a snapshot of the daemon's counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// watchFileEvents drains the watcher and queues changed paths.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	events, errs := d.watcher.Events(), d.watcher.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.config.Logger.Printf("File event: %s %s", ev.Op, ev.Path)
			d.queueChange(ev.Path)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(d.ctx)
		}
	}
}

// processPendingChanges applies files that have been quiet for the
// debounce interval. A file that no longer exists is treated as removed.
func (d *Daemon) processPendingChanges(ctx context.Context) {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.config.Logger.Printf("Processing change: %s", path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := d.syncer.RemoveFile(ctx, path); err != nil {
				d.config.Logger.Printf("Error removing %s: %v", path, err)
				d.count(func(s *Stats) { s.Failed++ })
				continue
			}
			d.count(func(s *Stats) { s.Removed++ })
			continue
		}

		if _, err := d.syncer.SyncFile(ctx, path); err != nil {
			d.config.Logger.Printf("Error syncing %s: %v", path, err)
			d.count(func(s *Stats) { s.Failed++ })
			continue
		}
		d.count(func(s *Stats) { s.Applied++ })
	}
}

func (d *Daemon) periodicResync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.PerformFullSync(d.ctx); err != nil {
				d.config.Logger.Printf("Error during periodic resync: %v", err)
			}
		}
	}
}

func (d *Daemon) count(fn func(*Stats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}
