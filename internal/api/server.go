// Package api exposes the firewall manager over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/fwup/internal/events"
	"github.com/mattjoyce/fwup/internal/firewall"
	"github.com/mattjoyce/fwup/internal/ipset"
)

//go:generate mockgen -destination=mocks/mock_firewall.go -package=mocks github.com/mattjoyce/fwup/internal/api Firewall

// Firewall is the set management surface the API drives.
type Firewall interface {
	CreateSet(ctx context.Context, set ipset.Set) (bool, error)
	DeleteSet(ctx context.Context, name string) error
	AddMembers(ctx context.Context, name string, members []string) ([]string, error)
	RemoveMember(ctx context.Context, name, member string) (bool, error)
	ListSets(ctx context.Context) ([]ipset.Set, error)
	GetSet(ctx context.Context, name string) (firewall.SetView, error)
	Flush(ctx context.Context) error
	Resync(ctx context.Context) error
	Status(ctx context.Context) (firewall.Status, error)
}

var _ Firewall = (*firewall.Manager)(nil)

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token required on every route but /healthz.
	APIKey string
	// Version is reported by /healthz and the OpenAPI document.
	Version string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	firewall  Firewall
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, fw Firewall, hub *events.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	return &Server{
		config:    config,
		firewall:  fw,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// /events streams indefinitely, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Get("/status", s.handleStatus)
		r.Post("/flush", s.handleFlush)
		r.Post("/resync", s.handleResync)
		r.Get("/events", s.handleEvents)

		r.Route("/sets", func(r chi.Router) {
			r.Get("/", s.handleListSets)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetSet)
				r.Put("/", s.handlePutSet)
				r.Delete("/", s.handleDeleteSet)
				r.Post("/members", s.handleAddMembers)
				r.Delete("/members/*", s.handleRemoveMember)
			})
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
