// Package server exposes the bot's HTTP API: liveness, status, cycle
// history, detected relationships, transactions, and the durable event
// stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
	"github.com/dbontempi/arbot/internal/server/handler"
	"github.com/dbontempi/arbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter enables per-client request limiting when non-nil.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil entries
// leave their routes unregistered; serve mode without Postgres runs with
// health and status alone.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Cycles        *handler.CycleHandler
	Relationships *handler.RelationshipHandler
	Transactions  *handler.TransactionHandler
	Events        *handler.EventsHandler
}

// Server is the headless HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (rate limit, CORS, logging, auth) applied. The health endpoint is
// exempt from authentication.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Cycles != nil {
		mux.HandleFunc("GET /api/cycles/recent", handlers.Cycles.ListRecent)
		mux.HandleFunc("GET /api/cycles/{id}", handlers.Cycles.GetCycle)
		mux.HandleFunc("POST /api/cycles/trigger", handlers.Cycles.TriggerCycle)
	}
	if handlers.Relationships != nil {
		mux.HandleFunc("GET /api/relationships", handlers.Relationships.List)
		mux.HandleFunc("GET /api/relationships/{id}", handlers.Relationships.Get)
		mux.HandleFunc("GET /api/markets/{id}/relationships", handlers.Relationships.ListByMarket)
	}
	if handlers.Transactions != nil {
		mux.HandleFunc("GET /api/transactions", handlers.Transactions.List)
		mux.HandleFunc("GET /api/transactions/{id}", handlers.Transactions.Get)
		mux.HandleFunc("GET /api/cycles/{id}/transactions", handlers.Transactions.ListByCycle)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.List)
	}

	// Innermost first: auth guards the handlers, logging records the
	// authenticated outcome, CORS and rate limiting run before any work.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	if cfg.RateLimiter != nil {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
