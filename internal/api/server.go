package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rulestore"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, stores *rulestore.Manager, checksEngine *checks.Engine, detector *anomaly.Detector, processor *pipeline.Processor, version string) *Server {
	handler := NewHandler(repo, cache, bus, stores, checksEngine, detector, processor, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no session required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (session required)
	router.Route("/", func(r chi.Router) {
		r.Use(SessionMiddleware)

		// Tier policy management
		r.Get("/policies", handler.ListPolicies)
		r.Get("/policies/tiers", handler.ListTierNames)
		r.Post("/policies", handler.CreatePolicy)
		r.Delete("/policies/{tier}", handler.DeletePolicy)

		// Validation
		r.Post("/validate", handler.ValidateRecord)
		r.Post("/validate/batch", handler.ValidateBatch)

		// Anomaly detection
		r.Post("/anomalies", handler.DetectAnomalies)

		// Batch ingestion and reports
		r.Post("/batches", handler.CreateBatch)
		r.Get("/batches", handler.ListBatches)
		r.Get("/batches/{id}", handler.GetBatch)
		r.Get("/batches/{id}/report", handler.GetBatchReport)

		// Custom check management
		r.Get("/checks", handler.ListChecks)
		r.Post("/checks", handler.CreateCheck)
		r.Delete("/checks/{id}", handler.DeleteCheck)
		r.Post("/checks/reload", handler.ReloadChecks)
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
