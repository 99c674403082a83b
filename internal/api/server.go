package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/intercompbx/intercompbx/internal/api/middleware"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/provisioning"
	"github.com/intercompbx/intercompbx/internal/render"
)

// maxFormBytes bounds the form bodies the switch posts to /fsapi.
const maxFormBytes = 1 << 20

// Dispatcher resolves a posted field map to a document.
type Dispatcher interface {
	Route(ctx context.Context, f fsapi.Fields) (fsapi.Document, error)
	Routes() []fsapi.RouteInfo
	SectionKeys() map[string]int
}

// ProvisioningReader is the part of the provisioning store the admin API
// lists.
type ProvisioningReader interface {
	Gateways(ctx context.Context) ([]provisioning.Gateway, error)
	DidExtensions(ctx context.Context) ([]provisioning.DidExtension, error)
	Domains(ctx context.Context) ([]provisioning.Domain, error)
}

// Deps are the collaborators the HTTP server mounts. Preview, Guard,
// Limiter, and Metrics may be nil. Preview answers /api/v1/preview; it must
// not write client presence or feed the metrics recorder. The client IP seen
// by the failure guard and rate limiter comes from proxy headers only when
// TrustProxyHeaders is set.
type Deps struct {
	Dispatcher  Dispatcher
	Preview     Dispatcher
	Renderer    render.Renderer
	Store       ProvisioningReader
	FSAPIAuth   *middleware.FSAPIAuthenticator
	Guard       *middleware.FailureGuard
	Limiter     *middleware.IPRateLimiter
	AdminSecret []byte
	Metrics     http.Handler
	Logger      *slog.Logger
	StartTime   time.Time

	TrustProxyHeaders bool
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: deps.Logger.With("subsystem", "api"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	if s.deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.AccessLog(s.deps.Logger))
	r.Use(middleware.Recover(s.deps.Logger))

	// mod_xml_curl endpoint.
	r.Group(func(r chi.Router) {
		if s.deps.FSAPIAuth != nil {
			r.Use(s.deps.FSAPIAuth.Middleware)
		}
		r.Post("/fsapi", s.handleFSAPI)
	})

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.Limiter != nil {
			r.Use(middleware.RateLimit(s.deps.Limiter))
		}

		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminAuth(s.deps.AdminSecret, s.deps.Logger))

			r.Get("/dispatch", s.handleDispatch)
			r.Post("/preview", s.handlePreview)
			r.Get("/domains", s.handleDomains)
			r.Get("/gateways", s.handleGateways)
			r.Get("/dids", s.handleDIDs)
			r.Get("/blocked", s.handleBlocked)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Info("http routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.deps.StartTime).Seconds()),
	})
}
