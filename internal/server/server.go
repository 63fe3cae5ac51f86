// Package server exposes the streamhub HTTP + WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/server/handler"
	"github.com/alanyoungcy/streamhub/internal/server/middleware"
	"github.com/alanyoungcy/streamhub/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards admin routes; empty disables auth
	RateLimit   int    // requests per minute per client; 0 disables
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Live        *handler.LiveHandler
	Predictions *handler.PredictionHandler
	Presence    *handler.PresenceHandler
	Sweep       *handler.SweepHandler
	Audit       *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.RequireAPIKey(cfg.APIKey)

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}
	if h := handlers.Status; h != nil {
		mux.HandleFunc("GET /api/status", h.GetStatus)
	}
	if h := handlers.Live; h != nil {
		mux.HandleFunc("GET /api/live", h.GetLive)
		mux.HandleFunc("GET /api/live/events", h.ListEvents)
	}

	if h := handlers.Predictions; h != nil {
		mux.Handle("POST /api/predictions", admin(http.HandlerFunc(h.CreatePrediction)))
		mux.HandleFunc("GET /api/predictions/{id}", h.GetPrediction)
		mux.HandleFunc("GET /api/predictions/{id}/wagers", h.ListWagers)
		mux.HandleFunc("POST /api/predictions/{id}/wagers", h.PlaceWager)
		mux.Handle("POST /api/predictions/{id}/outcome", admin(http.HandlerFunc(h.DeclareOutcome)))
		mux.Handle("POST /api/predictions/{id}/settle", admin(http.HandlerFunc(h.Settle)))
		mux.HandleFunc("GET /api/predictions/{id}/report", h.GetReport)
	}
	if h := handlers.Sweep; h != nil {
		mux.Handle("POST /api/settlement/sweep", admin(http.HandlerFunc(h.TriggerSweep)))
	}
	if h := handlers.Audit; h != nil {
		mux.Handle("GET /api/audit", admin(http.HandlerFunc(h.ListAudit)))
	}

	if h := handlers.Presence; h != nil {
		mux.HandleFunc("GET /api/presence/{room}", h.Members)
		mux.HandleFunc("POST /api/presence/{room}/join", h.Join)
		mux.HandleFunc("POST /api/presence/{room}/heartbeat", h.Heartbeat)
		mux.HandleFunc("POST /api/presence/{room}/leave", h.Leave)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger, "/api/health", "/ws")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
