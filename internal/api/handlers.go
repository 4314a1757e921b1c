package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
	"github.com/elasticmodels/elastic/internal/store"
)

// maxBodyBytes caps request payloads.
const maxBodyBytes = 1 << 20

type detail struct {
	Detail string `json:"detail"`
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.ListSchemas(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSchemaDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		s.handleNotFound(w, r)
		return
	}
	sc, err := s.registry.GetSchemaDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	sc, err := s.registry.FindByPluralName(r.Context(), r.PathValue("plural"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var list []*store.Instance
	err = projection.WithSchema(r.Context(), sc, func(ctx context.Context) error {
		var err error
		list, err = s.store.List(ctx, sc)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	sc, err := s.registry.FindByPluralName(r.Context(), r.PathValue("plural"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload, msg := decodePayload(w, r)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, detail{Detail: msg})
		return
	}

	var inst *store.Instance
	err = projection.WithSchema(r.Context(), sc, func(ctx context.Context) error {
		var err error
		inst, err = s.store.Create(ctx, sc, payload)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleRetrieveInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		s.handleNotFound(w, r)
		return
	}
	sc, err := s.registry.FindByPluralName(r.Context(), r.PathValue("plural"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var inst *store.Instance
	err = projection.WithSchema(r.Context(), sc, func(ctx context.Context) error {
		var err error
		inst, err = s.store.Retrieve(ctx, sc, id)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	s.rewriteInstance(w, r, (*store.Store).Update)
}

func (s *Server) handlePartialUpdateInstance(w http.ResponseWriter, r *http.Request) {
	s.rewriteInstance(w, r, (*store.Store).PartialUpdate)
}

type rewriteFunc func(st *store.Store, ctx context.Context, sc *schema.Schema, id int64, payload map[string]any) (*store.Instance, error)

func (s *Server) rewriteInstance(w http.ResponseWriter, r *http.Request, rewrite rewriteFunc) {
	id, ok := pathID(r, "id")
	if !ok {
		s.handleNotFound(w, r)
		return
	}
	sc, err := s.registry.FindByPluralName(r.Context(), r.PathValue("plural"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload, msg := decodePayload(w, r)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, detail{Detail: msg})
		return
	}

	var inst *store.Instance
	err = projection.WithSchema(r.Context(), sc, func(ctx context.Context) error {
		var err error
		inst, err = rewrite(s.store, ctx, sc, id, payload)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		s.handleNotFound(w, r)
		return
	}
	sc, err := s.registry.FindByPluralName(r.Context(), r.PathValue("plural"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	err = projection.WithSchema(r.Context(), sc, func(ctx context.Context) error {
		return s.store.Delete(ctx, sc, id)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.feed.ClientCount(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, detail{Detail: "Not found."})
}

// decodePayload reads a JSON object body. A non-empty message means the
// body was rejected.
func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, string) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Sprintf("JSON parse error - %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, "JSON parse error - unexpected data after the top-level value"
	}
	payload, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Sprintf("Invalid data. Expected a dictionary, but got %s.", jsonKind(body))
	}
	return payload, ""
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "list"
	case string:
		return "str"
	case bool:
		return "bool"
	default:
		return "number"
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeError maps an error onto a status code and body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if fe, ok := schema.AsFieldErrors(err); ok {
		writeJSON(w, http.StatusBadRequest, fe)
		return
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, detail{Detail: "Not found."})
	case errors.Is(err, projection.ErrStaleSchema):
		s.logger.Printf("Conflict: %v", err)
		writeJSON(w, http.StatusConflict, detail{Detail: "The schema changed while the request was handled. Retry the request."})
	case errors.Is(err, projection.ErrNoActiveSchema), errors.Is(err, projection.ErrSchemaMismatch):
		s.logger.Printf("internal contract violation: %v", err)
		writeJSON(w, http.StatusInternalServerError, detail{Detail: "A server error occurred."})
	default:
		s.logger.Printf("Error: %v", err)
		writeJSON(w, http.StatusInternalServerError, detail{Detail: "A server error occurred."})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"detail":"A server error occurred."}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}
