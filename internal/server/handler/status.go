package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports run mode, uptime, and registered strategies.
type StatusHandler struct {
	mode       string
	startedAt  time.Time
	strategies func() []string
}

// NewStatusHandler creates a StatusHandler. strategies may be nil when no
// sim is running.
func NewStatusHandler(mode string, startedAt time.Time, strategies func() []string) *StatusHandler {
	return &StatusHandler{
		mode:       mode,
		startedAt:  startedAt,
		strategies: strategies,
	}
}

// Status returns runtime metadata for dashboards.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	var strategies []string
	if h.strategies != nil {
		strategies = h.strategies()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"strategies":     strategies,
	})
}
