package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/sim"
)

// LeaderboardService is the slice of the leaderboard service this handler
// uses.
type LeaderboardService interface {
	Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
}

// StrategyLister lists registered sim strategies.
type StrategyLister interface {
	ListInfo() []sim.StrategyInfo
}

// LeaderboardHandler serves the ranking and strategy listing endpoints.
type LeaderboardHandler struct {
	board      LeaderboardService
	strategies StrategyLister
	logger     *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler. strategies may be nil
// when no sim is wired.
func NewLeaderboardHandler(board LeaderboardService, strategies StrategyLister, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		board:      board,
		strategies: strategies,
		logger:     logger.With(slog.String("handler", "leaderboard")),
	}
}

// Leaderboard returns the top agents by ROI.
// GET /api/leaderboard?limit=20
func (h *LeaderboardHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	n := opts.Limit
	if n > 100 {
		n = 100
	}

	entries, err := h.board.Top(r.Context(), n)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "leaderboard read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   n,
	})
}

// ListStrategies returns registered sim strategies.
// GET /api/strategies
func (h *LeaderboardHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	var infos []sim.StrategyInfo
	if h.strategies != nil {
		infos = h.strategies.ListInfo()
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": infos})
}
