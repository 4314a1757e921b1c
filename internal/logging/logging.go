// Package logging builds the per-component loggers.
//
// Every component logs through a standard *log.Logger with a bracketed
// prefix such as "[api] ". They all share one writer: stderr, or a
// rotating file when a path is configured.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/elasticmodels/elastic/internal/config"
)

// Sink is the shared log destination.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// Open returns a Sink for cfg. An empty cfg.File logs to stderr.
func Open(cfg config.LogConfig) (*Sink, error) {
	if cfg.File == "" {
		return &Sink{w: os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return &Sink{w: lj, closer: lj}, nil
}

// Discard returns a Sink that drops everything.
func Discard() *Sink {
	return &Sink{w: io.Discard}
}

// Writer returns the underlying writer.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Logger returns a logger writing to the sink with prefix "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes a rotating file. It is a no-op for stderr.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
