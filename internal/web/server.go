// Package web provides the HTTP API, the live websocket stream and the
// status page of the lot service.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/campa/internal/auth"
	"github.com/JonMunkholm/campa/internal/config"
	"github.com/JonMunkholm/campa/internal/core"
	"github.com/JonMunkholm/campa/internal/live"
	"github.com/JonMunkholm/campa/internal/metrics"
	"github.com/JonMunkholm/campa/internal/web/middleware"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the server to the rest of the application.
type Options struct {
	Service *core.Service
	Auth    *auth.Service
	Hub     *live.Hub
	Metrics *metrics.Metrics
	Store   Pinger
	Archive core.ArchiveSink // nil disables archived exports
	Config  *config.Config
}

// Server is the HTTP server of the lot service.
type Server struct {
	service *core.Service
	auth    *auth.Service
	hub     *live.Hub
	metrics *metrics.Metrics
	store   Pinger
	archive core.ArchiveSink
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server. ctx bounds background work such as the rate
// limiter sweep.
func NewServer(ctx context.Context, opts Options) *Server {
	s := &Server{
		service: opts.Service,
		auth:    opts.Auth,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		store:   opts.Store,
		archive: opts.Archive,
		cfg:     opts.Config,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes(ctx)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger(s.metrics))
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))
	s.router.Use(requestMetadata)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(ctx context.Context) {
	general := passThrough
	imports := passThrough
	if s.cfg.Rate.Enabled {
		general = middleware.NewRateLimiter(ctx, s.cfg.Rate.RequestsPerMinute, time.Minute).Handler
		imports = middleware.NewRateLimiter(ctx, s.cfg.Rate.ImportLimit, time.Minute).Handler
	}
	timeout := chimw.Timeout(s.cfg.Server.RequestTimeout)
	authenticated := middleware.Authenticate(s.auth)

	// Public
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Get("/", s.handleStatusPage)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(general)

		r.With(timeout).Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)

			// Long-lived streams run without the request timeout
			r.Get("/live", s.handleLive)
			r.Get("/import/{importID}/progress", s.handleImportProgress)
			r.Get("/import/{importID}/result", s.handleImportResult)
			r.With(imports).Post("/import", s.handleImport)

			r.Group(func(r chi.Router) {
				r.Use(timeout)

				// Session
				r.Post("/auth/logout", s.handleLogout)
				r.Get("/auth/me", s.handleMe)

				// Users
				r.With(middleware.RequireAdmin).Get("/users", s.handleListUsers)
				r.With(middleware.RequireAdmin).Post("/users", s.handleCreateUser)
				r.Put("/users/{id}", s.handleUpdateUser)
				r.With(middleware.RequireAdmin).Delete("/users/{id}", s.handleDeleteUser)

				// Vehicles
				r.Get("/vehicles", s.handleListVehicles)
				r.Post("/vehicles", s.handleRegisterEntry)
				r.Get("/vehicles/active", s.handleListActive)
				r.Get("/vehicles/active/count", s.handleCountActive)
				r.Get("/vehicles/search", s.handleSearch)
				r.Put("/vehicles/{id}", s.handleUpdateVehicle)
				r.With(middleware.RequireAdmin).Delete("/vehicles/{id}", s.handleDeleteVehicle)
				r.Post("/vehicles/{id}/depart", s.handleMarkDeparted)
				r.With(middleware.RequireAdmin).Post("/vehicles/delete", s.handleDeleteVehicles)
				r.With(middleware.RequireAdmin).Post("/vehicles/purge", s.handleDeleteByPeriod)

				// Catalog
				r.Get("/brands", s.handleListBrands)
				r.Post("/brands", s.handleCreateBrand)
				r.With(middleware.RequireAdmin).Delete("/brands/{id}", s.handleDeleteBrand)
				r.Get("/brands/{id}/models", s.handleListModels)
				r.Post("/brands/{id}/models", s.handleCreateModel)
				r.With(middleware.RequireAdmin).Delete("/brands/{id}/models/{modelID}", s.handleDeleteModel)

				// Import
				r.With(imports).Post("/import/async", s.handleStartImport)
				r.Post("/import/{importID}/cancel", s.handleCancelImport)
				r.Get("/import/history", s.handleImportHistory)

				// Export
				r.Get("/export", s.handleExport)
				r.With(middleware.RequireAdmin).Post("/export", s.handleArchiveExport)

				// Audit log
				r.With(middleware.RequireAdmin).Get("/audit-log", s.handleAuditLog)
			})
		})
	})
}

func passThrough(next http.Handler) http.Handler { return next }

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout, // 0 keeps progress streams and websockets open
		IdleTimeout:  sc.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			if enableCSP {
				w.Header().Set("Content-Security-Policy",
					"default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
			}

			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// handleHealth reports whether the store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, map[string]any{
		"status":  "ok",
		"imports": s.service.Limiter().Status(),
	})
}
