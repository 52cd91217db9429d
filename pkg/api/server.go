// Package api serves stored schematics and runs over HTTP.
//
// Routes:
//
//	GET  /healthz                  liveness and build version
//	POST /schematics               store a document, returns its id
//	GET  /schematics/{id}          the stored document
//	GET  /schematics/{id}/summary  element counts
//	GET  /runs/{id}                a stored simulation run
//	POST /resolve                  connection-position calculator
//
// Errors are returned as {"code": ..., "error": ...} with a status derived
// from the error code.
package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/observability"
	"github.com/matzehuels/cellforge/pkg/store"
)

// Defaults for Options.
const (
	DefaultMaxBodyBytes    = 8 << 20
	DefaultShutdownTimeout = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	// Library validates posted documents by replaying them. Nil uses the
	// default symbol library.
	Library *memory.Library

	// Recentering is used when a posted document carries no table.
	Recentering geom.Recentering

	// Cache holds runs read through GET /runs/{id}. Runs are immutable once
	// stored, so entries are never invalidated.
	Cache  cache.Cache   // Default: NullCache
	Keyer  cache.Keyer   // Default: DefaultKeyer
	RunTTL time.Duration // Default: cache.TTLRun

	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	Logger          *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Library == nil {
		o.Library = memory.DefaultLibrary()
	}
	if o.Cache == nil {
		o.Cache = cache.NewNullCache()
	}
	if o.Keyer == nil {
		o.Keyer = cache.NewDefaultKeyer()
	}
	if o.RunTTL <= 0 {
		o.RunTTL = cache.TTLRun
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// Server is the HTTP front end over a Store.
type Server struct {
	store  store.Store
	opts   Options
	logger *log.Logger
	router chi.Router
}

// New builds the router for st.
func New(st store.Store, opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{store: st, opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.health)
	r.Post("/resolve", s.resolve)
	r.Route("/schematics", func(r chi.Router) {
		r.Post("/", s.putSchematic)
		r.Get("/{id}", s.getSchematic)
		r.Get("/{id}/summary", s.getSummary)
	})
	r.Get("/runs/{id}", s.getRun)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// observe reports each request to the HTTP hooks and the debug log, keyed
// by route pattern rather than raw path.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		hooks := observability.HTTP()
		hooks.OnRequest(r.Context(), r.Method, r.URL.Path)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		hooks.OnResponse(r.Context(), r.Method, route, status, elapsed)
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"elapsed", elapsed,
			"request_id", middleware.GetReqID(r.Context()))
	})
}
