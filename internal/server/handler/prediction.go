package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/service"
)

// PredictionService is the slice of the prediction service this handler
// uses.
type PredictionService interface {
	Place(ctx context.Context, params service.PlaceParams) (*domain.Prediction, error)
	Get(ctx context.Context, id string) (*domain.Prediction, error)
	ListByStatus(ctx context.Context, status domain.PredictionStatus, opts domain.ListOpts) ([]*domain.Prediction, error)
}

// PredictionHandler serves prediction placement and lookup.
type PredictionHandler struct {
	preds  PredictionService
	logger *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(preds PredictionService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		preds:  preds,
		logger: logger.With(slog.String("handler", "prediction")),
	}
}

// PlacePrediction places a bet for an agent at the current mirrored price.
// POST /api/predictions
func (h *PredictionHandler) PlacePrediction(w http.ResponseWriter, r *http.Request) {
	var params service.PlaceParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pred, err := h.preds.Place(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "agent or market not found")
		case errors.Is(err, domain.ErrInvalidStake):
			writeError(w, http.StatusBadRequest, "stake must be positive")
		case errors.Is(err, domain.ErrInvalidPrice):
			writeError(w, http.StatusUnprocessableEntity, "market price is outside the tradable range")
		case errors.Is(err, domain.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
		case errors.Is(err, domain.ErrMarketClosed):
			writeError(w, http.StatusConflict, "market is not open for predictions")
		case errors.Is(err, domain.ErrAgentRetired):
			writeError(w, http.StatusConflict, "agent is retired")
		default:
			h.logger.ErrorContext(r.Context(), "place prediction failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to place prediction")
		}
		return
	}

	writeJSON(w, http.StatusCreated, pred)
}

// GetPrediction returns one prediction with its latest mark.
// GET /api/predictions/{id}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	pred, err := h.preds.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prediction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get prediction failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get prediction")
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// ListPredictions returns predictions filtered by status (default open).
// GET /api/predictions?status=open&limit=50&offset=0
func (h *PredictionHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	status := domain.PredictionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PredictionOpen
	}
	switch status {
	case domain.PredictionOpen, domain.PredictionWon, domain.PredictionLost, domain.PredictionVoided:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	preds, err := h.preds.ListByStatus(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list predictions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list predictions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": preds,
		"status":      status,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}
