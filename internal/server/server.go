// Package server assembles the HTTP API: routes, middleware, and the
// WebSocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/server/handler"
	"github.com/arenalabs/agentarena/internal/server/middleware"
	"github.com/arenalabs/agentarena/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string

	// APIKey protects the /api/admin routes. Empty disables admin auth.
	APIKey string
}

// Handlers aggregates everything the router registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Agents      *handler.AgentHandler
	Markets     *handler.MarketHandler
	Predictions *handler.PredictionHandler
	Leaderboard *handler.LeaderboardHandler
	Admin       *handler.AdminHandler
}

// Server is the arena's HTTP and WebSocket front end.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a Server with all routes registered. limiter may be nil to
// disable API rate limiting.
func New(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status are unauthenticated.
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.Status)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)

	mux.HandleFunc("POST /api/agents", h.Agents.CreateAgent)
	mux.HandleFunc("GET /api/agents", h.Agents.ListAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.Agents.GetAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", h.Agents.RetireAgent)
	mux.HandleFunc("GET /api/agents/{id}/predictions", h.Agents.ListAgentPredictions)

	mux.HandleFunc("POST /api/predictions", h.Predictions.PlacePrediction)
	mux.HandleFunc("GET /api/predictions", h.Predictions.ListPredictions)
	mux.HandleFunc("GET /api/predictions/{id}", h.Predictions.GetPrediction)

	mux.HandleFunc("GET /api/leaderboard", h.Leaderboard.Leaderboard)
	mux.HandleFunc("GET /api/strategies", h.Leaderboard.ListStrategies)

	// Admin routes sit behind the API key.
	admin := middleware.Auth(cfg.APIKey)
	mux.Handle("POST /api/admin/settle/{marketID}", admin(http.HandlerFunc(h.Admin.SettleMarket)))
	mux.Handle("POST /api/admin/reconcile/{agentID}", admin(http.HandlerFunc(h.Admin.ReconcileAgent)))
	mux.Handle("POST /api/admin/scrape", admin(http.HandlerFunc(h.Admin.TriggerScrape)))
	mux.Handle("GET /api/admin/audit", admin(http.HandlerFunc(h.Admin.ListAudit)))
	mux.Handle("GET /api/admin/archives", admin(http.HandlerFunc(h.Admin.ListArchives)))

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var root http.Handler = mux
	if limiter != nil {
		root = middleware.RateLimit(limiter)(root)
	}
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// Start listens until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
