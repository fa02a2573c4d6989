// Package server exposes the HTTP + WebSocket control surface for the hedger:
// position lifecycle, rebalance history, and live dashboard events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lphedger/internal/domain"
	"github.com/alanyoungcy/lphedger/internal/server/handler"
	"github.com/alanyoungcy/lphedger/internal/server/middleware"
	"github.com/alanyoungcy/lphedger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit bounds requests per client IP per RateWindow; zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Archives is optional and registered only when blob storage is wired.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Positions  *handler.PositionHandler
	Rebalances *handler.RebalanceHandler
	Prices     *handler.PriceHandler
	Archives   *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server for the hedger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. The limiter is optional; pass nil to disable it.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no auth required for health).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Position lifecycle.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/positions", handlers.Positions.ActivatePosition)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("DELETE /api/positions/{id}", handlers.Positions.DeactivatePosition)
	mux.HandleFunc("PATCH /api/positions/{id}/config", handlers.Positions.UpdateConfig)
	mux.HandleFunc("POST /api/positions/{id}/reset-pnl", handlers.Positions.ResetPnL)

	// Rebalance audit history.
	mux.HandleFunc("GET /api/positions/{id}/rebalances", handlers.Rebalances.ListRebalances)

	// Latest observed prices.
	mux.HandleFunc("GET /api/prices", handlers.Prices.ListPrices)
	mux.HandleFunc("GET /api/prices/{symbol}", handlers.Prices.GetPrice)

	// Cold-storage archive, present only when blob storage is wired.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.GetArchive)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting",
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
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
