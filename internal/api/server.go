// Package api serves the HTTP interface: the schema listing, instance CRUD
// per schema, a health probe and a websocket change feed.
//
// Routes:
//
//	GET    /schemas/                   list schemas
//	GET    /schemas/{id}/              schema detail with field definitions
//	GET    /instances/{plural}/        list instances
//	POST   /instances/{plural}/        create an instance
//	GET    /instances/{plural}/{id}/   retrieve one instance
//	PUT    /instances/{plural}/{id}/   replace an instance
//	PATCH  /instances/{plural}/{id}/   update some fields of an instance
//	DELETE /instances/{plural}/{id}/   delete an instance
//	GET    /health                     health probe
//	GET    /ws                         change feed
//
// Unmatched paths answer 404 and known paths with the wrong method 405,
// both with a JSON detail body.
package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/elasticmodels/elastic/internal/registry"
	"github.com/elasticmodels/elastic/internal/store"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: ":8000")
	Addr string

	// Logger for server activity (default: stderr logger with [api] prefix)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8000",
		Logger: log.New(os.Stderr, "[api] ", log.LstdFlags),
	}
}

// Server is the HTTP API.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	registry *registry.Registry
	store    *store.Store
	feed     *Feed

	wg     sync.WaitGroup
	logger *log.Logger
}

// NewServer creates a server over reg and st. Events published to feed
// reach websocket clients; pass the same feed as the registry's and the
// store's notifier.
func NewServer(reg *registry.Registry, st *store.Store, feed *Feed, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if feed == nil {
		feed = NewFeed(config.Logger)
	}

	return &Server{
		addr:     config.Addr,
		registry: reg,
		store:    st,
		feed:     feed,
		logger:   config.Logger,
	}
}

// Feed returns the server's websocket feed.
func (s *Server) Feed() *Feed {
	return s.feed
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /schemas/{$}", s.handleListSchemas)
	mux.HandleFunc("GET /schemas/{id}/{$}", s.handleSchemaDetail)
	mux.HandleFunc("GET /instances/{plural}/{$}", s.handleListInstances)
	mux.HandleFunc("POST /instances/{plural}/{$}", s.handleCreateInstance)
	mux.HandleFunc("GET /instances/{plural}/{id}/{$}", s.handleRetrieveInstance)
	mux.HandleFunc("PUT /instances/{plural}/{id}/{$}", s.handleUpdateInstance)
	mux.HandleFunc("PATCH /instances/{plural}/{id}/{$}", s.handlePartialUpdateInstance)
	mux.HandleFunc("DELETE /instances/{plural}/{id}/{$}", s.handleDeleteInstance)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.feed)
	return s.logRequests(jsonMisses(mux))
}

// jsonMisses serves requests mux has no pattern for with a JSON body. The
// mux still decides between 404 and 405 and sets Allow.
func jsonMisses(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := mux.Handler(r)
		if pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}
		h.ServeHTTP(&missWriter{ResponseWriter: w, method: r.Method}, r)
	})
}

// missWriter replaces the plain text error the mux writes.
type missWriter struct {
	http.ResponseWriter
	method  string
	written bool
}

func (m *missWriter) WriteHeader(code int) {
	m.written = true
	msg := "Not found."
	if code == http.StatusMethodNotAllowed {
		msg = fmt.Sprintf("Method %q not allowed.", m.method)
	}
	m.Header().Del("X-Content-Type-Options")
	writeJSON(m.ResponseWriter, code, detail{Detail: msg})
}

func (m *missWriter) Write(b []byte) (int, error) {
	if !m.written {
		m.WriteHeader(http.StatusNotFound)
	}
	return len(b), nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.feed.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("API listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.logger.Println("Stopping API server")

	s.feed.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("API server stopped")
	return nil
}

// Run starts the server and stops it when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// GetAddr returns the listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrade reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
	})
}
