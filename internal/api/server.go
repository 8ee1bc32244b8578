package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/progress"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/screening"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, aggregator *progress.Aggregator, scorer *risk.Scorer, screeningEngine *screening.Engine, defaultRuleWeight float64, version string) *Server {
	handler := NewHandler(repo, cache, bus, aggregator, scorer, screeningEngine, defaultRuleWeight, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Step registry
	router.Get("/steps", handler.ListSteps)

	// Applications and the wizard surface
	router.Route("/applications", func(r chi.Router) {
		r.Post("/", handler.CreateApplication)
		r.Get("/", handler.ListApplications)
		r.Get("/{id}", handler.GetApplication)

		r.Put("/{id}/steps/{step}", handler.SaveStep)
		r.Get("/{id}/steps/{step}", handler.GetStep)
		r.Get("/{id}/progress", handler.GetProgress)
		r.Get("/{id}/risk", handler.GetRisk)
	})

	// Screening rule management
	router.Route("/screening-rules", func(r chi.Router) {
		r.Get("/", handler.ListScreeningRules)
		r.Post("/", handler.CreateScreeningRule)
		r.Get("/{id}", handler.GetScreeningRule)
		r.Post("/reload", handler.ReloadScreeningRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
