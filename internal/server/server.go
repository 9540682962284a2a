// Package server wires the HTTP + WebSocket API for the arbitrage risk
// engine: execution control, risk queries, and emergency stops.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arbor-trading/arbrisk/internal/server/handler"
	"github.com/arbor-trading/arbrisk/internal/server/middleware"
	"github.com/arbor-trading/arbrisk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per second per client; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Executions *handler.ExecutionHandler
	Risk       *handler.RiskHandler
	Global     *handler.GlobalHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (rate limit, auth, logging, CORS) applied. limiter may
// be nil, disabling rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter middleware.Limiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Execution control and queries.
	mux.HandleFunc("POST /api/executions", handlers.Executions.Execute)
	mux.HandleFunc("GET /api/executions", handlers.Executions.List)
	mux.HandleFunc("GET /api/executions/{id}", handlers.Executions.Get)
	mux.HandleFunc("DELETE /api/executions/{id}", handlers.Executions.Cancel)
	mux.HandleFunc("GET /api/engine/stats", handlers.Executions.Stats)

	// Per-position risk.
	mux.HandleFunc("POST /api/risk/evaluate", handlers.Risk.Evaluate)
	mux.HandleFunc("GET /api/risk/status", handlers.Risk.Status)
	mux.HandleFunc("GET /api/risk/positions", handlers.Risk.Positions)
	mux.HandleFunc("GET /api/risk/positions/{id}", handlers.Risk.GetPosition)
	mux.HandleFunc("POST /api/risk/emergency-stop", handlers.Risk.EmergencyStop)

	// Portfolio-level risk.
	mux.HandleFunc("GET /api/global/status", handlers.Global.Status)
	mux.HandleFunc("GET /api/global/exposures", handlers.Global.Exposures)
	mux.HandleFunc("GET /api/global/correlations", handlers.Global.Correlations)
	mux.HandleFunc("POST /api/global/shutdown", handlers.Global.Shutdown)

	// WebSocket alert stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
