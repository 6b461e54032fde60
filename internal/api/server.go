package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/keplertrack/internal/auth"
	"github.com/star/keplertrack/internal/health"
	"github.com/star/keplertrack/internal/metrics"
	"github.com/star/keplertrack/internal/passes"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/stream"
	"github.com/star/keplertrack/internal/tle"
)

// Refresher reloads the catalog on demand. *tle.Loader satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (*tle.Catalog, error)
}

// Deps holds everything the handlers need.
type Deps struct {
	Store      *tle.Store
	Propagator *propagation.Propagator
	Refresher  Refresher       // nil when catalog fetching is disabled
	Stream     *stream.Handler // nil disables the tracking stream

	PassDefaults  passes.Options
	MaxPassWindow time.Duration

	Auth       auth.Config
	TrustProxy bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	deps       Deps
	now        func() time.Time
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, deps Deps) *Server {
	if deps.MaxPassWindow <= 0 {
		deps.MaxPassWindow = 10 * 24 * time.Hour
	}
	s := &Server{logger: logger, deps: deps, now: time.Now}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(deps.Store))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/catalog", s.handleCatalog)
	mux.HandleFunc("POST /api/v1/catalog/fetch", s.handleCatalogFetch)
	mux.HandleFunc("POST /api/v1/elements/parse", s.handleParse)
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)

	mux.HandleFunc("GET /api/v1/satellites/{id}", s.handleSatellite)
	mux.HandleFunc("GET /api/v1/satellites/{id}/position", s.handlePosition)
	mux.HandleFunc("GET /api/v1/satellites/{id}/look", s.handleLook)
	mux.HandleFunc("GET /api/v1/satellites/{id}/track", s.handleTrack)
	mux.HandleFunc("GET /api/v1/satellites/{id}/passes", s.handlePasses)
	mux.HandleFunc("GET /api/v1/satellites/{id}/fidelity", s.handleFidelity)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/satellites/{id}/stream", s.handleStream)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(deps.Auth)(handler)
	handler = loggingMiddleware(logger, deps.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}
