package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/buildinfo"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/connpos"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/observability"
	"github.com/matzehuels/cellforge/pkg/schematic"
	"github.com/matzehuels/cellforge/pkg/store"
)

// =============================================================================
// Responses
// =============================================================================

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// SchematicCreated is returned by POST /schematics.
type SchematicCreated struct {
	ID      string            `json:"id"`
	Hash    string            `json:"hash"`
	Summary schematic.Summary `json:"summary"`
}

// ResolveRequest is the body of POST /resolve. Offset defaults to
// connpos.DefaultOffset.
type ResolveRequest struct {
	Pos       geom.Point        `json:"pos"`
	Direction connpos.Direction `json:"direction"`
	Offset    float64           `json:"offset,omitempty"`
}

// ResolveResponse is the computed anchor and label offset.
type ResolveResponse struct {
	Anchor geom.Point `json:"anchor"`
	Label  geom.Point `json:"label"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code  errors.Code `json:"code"`
	Error string      `json:"error"`
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: buildinfo.Version, Commit: buildinfo.Commit})
}

func (s *Server) putSchematic(w http.ResponseWriter, r *http.Request) {
	doc, err := schematic.ReadDocument(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if doc.Lib == "" || doc.Cell == "" {
		s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "document needs lib and cell"))
		return
	}

	// Validate by replaying into a scratch backend.
	opts := schematic.Options{Recentering: s.opts.Recentering, Logger: s.logger}
	if len(doc.Recentering) > 0 {
		opts.Recentering = nil
	}
	sch, err := schematic.FromDocument(r.Context(), memory.New(memory.WithLibrary(s.opts.Library)), doc, "", "", opts)
	if errors.Is(err, errors.ErrCodeBackend) {
		err = errors.Wrap(errors.ErrCodeInvalidInput, err, "replay document")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.store.PutSchematic(r.Context(), doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hash, err := doc.Hash()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("schematic stored", "id", id, "lib", doc.Lib, "cell", doc.Cell)
	w.Header().Set("Location", "/schematics/"+id)
	s.writeJSON(w, http.StatusCreated, SchematicCreated{ID: id, Hash: hash, Summary: sch.Summary()})
}

func (s *Server) getSchematic(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetSchematic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec.Document)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetSchematic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec.Document.Summary())
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	key := s.opts.Keyer.RunKey(id)

	var rec store.RunRecord
	hit, err := cache.GetJSON(ctx, s.opts.Cache, key, &rec)
	if err != nil {
		s.logger.Warn("run cache read failed", "id", id, "err", err)
	}
	if hit {
		observability.Cache().OnCacheHit(ctx, "run")
		s.writeJSON(w, http.StatusOK, &rec)
		return
	}
	observability.Cache().OnCacheMiss(ctx, "run")

	stored, err := s.store.GetRun(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := cache.SetJSON(ctx, s.opts.Cache, key, stored, s.opts.RunTTL); err != nil {
		s.logger.Warn("run cache write failed", "id", id, "err", err)
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		code := errors.ErrCodeInvalidInput
		if errors.Is(err, errors.ErrCodeInvalidDirection) {
			code = errors.ErrCodeInvalidDirection
		}
		s.writeError(w, r, errors.Wrap(code, err, "decode request"))
		return
	}
	if req.Offset == 0 {
		req.Offset = connpos.DefaultOffset
	}
	anchor, label, err := connpos.Resolve(req.Pos, req.Direction, req.Offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ResolveResponse{Anchor: anchor, Label: label})
}

// =============================================================================
// Encoding
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	s.writeJSON(w, status, ErrorResponse{Code: code, Error: err.Error()})
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeUnknownInstance:
		return http.StatusNotFound
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeBackend:
		return http.StatusBadGateway
	case errors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case errors.ErrCodeInternal, "":
		return http.StatusInternalServerError
	case errors.ErrCodeParamMismatch, errors.ErrCodeSignalExtraction, errors.ErrCodeNonconvergence:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
