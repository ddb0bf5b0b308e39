package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/service"
)

// AgentService is the slice of the agent service this handler uses.
type AgentService interface {
	Create(ctx context.Context, params service.CreateAgentParams) (*domain.Agent, error)
	Get(ctx context.Context, id string) (*domain.Agent, error)
	List(ctx context.Context, opts domain.ListOpts) ([]*domain.Agent, error)
	Retire(ctx context.Context, id string) error
}

// AgentPredictionLister lists an agent's predictions.
type AgentPredictionLister interface {
	ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]*domain.Prediction, error)
}

// AgentHandler serves the agent roster endpoints.
type AgentHandler struct {
	agents AgentService
	preds  AgentPredictionLister
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents AgentService, preds AgentPredictionLister, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		agents: agents,
		preds:  preds,
		logger: logger.With(slog.String("handler", "agent")),
	}
}

// CreateAgent registers a new agent.
// POST /api/agents
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var params service.CreateAgentParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	agent, err := h.agents.Create(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "agent name already taken")
		case errors.Is(err, domain.ErrInvalidStake):
			writeError(w, http.StatusBadRequest, "starting balance must be positive")
		default:
			h.logger.ErrorContext(r.Context(), "create agent failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to create agent")
		}
		return
	}

	writeJSON(w, http.StatusCreated, agent)
}

// ListAgents returns the roster.
// GET /api/agents?limit=50&offset=0
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	agents, err := h.agents.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list agents failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetAgent returns one agent with its derived stats.
// GET /api/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	agent, err := h.agents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get agent failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    agent,
		"roi":      agent.ROI(),
		"win_rate": agent.WinRate(),
	})
}

// RetireAgent takes an agent out of play. Open predictions still settle.
// DELETE /api/agents/{id}
func (h *AgentHandler) RetireAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if err := h.agents.Retire(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found or already retired")
			return
		}
		h.logger.ErrorContext(r.Context(), "retire agent failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to retire agent")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAgentPredictions returns an agent's predictions, newest first.
// GET /api/agents/{id}/predictions
func (h *AgentHandler) ListAgentPredictions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	// 404 for unknown agents rather than an empty list.
	if _, err := h.agents.Get(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get agent failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	preds, err := h.preds.ListByAgent(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list agent predictions failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list predictions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": preds,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}
