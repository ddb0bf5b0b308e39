package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arenalabs/agentarena/internal/domain"
)

// Settler settles or voids a market's open predictions.
type Settler interface {
	Settle(ctx context.Context, marketID string) (*domain.SettlementResult, error)
	Void(ctx context.Context, marketID string) (*domain.SettlementResult, error)
}

// Reconciler audits one agent's balance against its prediction history.
type Reconciler interface {
	Reconcile(ctx context.Context, id string, repair bool) (*domain.ReconcileReport, error)
}

// ScrapeTrigger requests an out-of-band market scrape.
type ScrapeTrigger interface {
	Trigger(ctx context.Context) error
}

// AuditLog records and reads the audit trail.
type AuditLog interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, opts domain.ListOpts) ([]*domain.AuditEntry, error)
}

// ArchiveLister lists cold-storage objects.
type ArchiveLister interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// AdminHandler serves the authenticated operator endpoints.
type AdminHandler struct {
	settler  Settler
	agents   Reconciler
	scraper  ScrapeTrigger
	audit    AuditLog
	archives ArchiveLister
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. scraper and archives may be nil
// when the corresponding subsystem is not running in this mode.
func NewAdminHandler(
	settler Settler,
	agents Reconciler,
	scraper ScrapeTrigger,
	audit AuditLog,
	archives ArchiveLister,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		settler:  settler,
		agents:   agents,
		scraper:  scraper,
		audit:    audit,
		archives: archives,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// SettleMarket forces settlement of a resolved market, or voids it.
// POST /api/admin/settle/{marketID}?void=true
func (h *AdminHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "marketID")
	void := r.URL.Query().Get("void") == "true"

	var (
		result *domain.SettlementResult
		err    error
	)
	if void {
		result, err = h.settler.Void(r.Context(), marketID)
	} else {
		result, err = h.settler.Settle(r.Context(), marketID)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "market not found")
		case errors.Is(err, domain.ErrMarketNotResolved):
			writeError(w, http.StatusConflict, "market is not resolved yet")
		case errors.Is(err, domain.ErrAlreadySettled):
			writeError(w, http.StatusConflict, "market already settled")
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "settlement already in progress")
		default:
			h.logger.ErrorContext(r.Context(), "settle failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "settlement failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ReconcileAgent re-derives an agent's expected balance from its prediction
// history. With repair=true, drift is corrected in place.
// POST /api/admin/reconcile/{agentID}?repair=true
func (h *AdminHandler) ReconcileAgent(w http.ResponseWriter, r *http.Request) {
	agentID := pathParam(r, "agentID")
	repair := r.URL.Query().Get("repair") == "true"

	report, err := h.agents.Reconcile(r.Context(), agentID, repair)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "reconcile failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// TriggerScrape runs a market scrape immediately.
// POST /api/admin/scrape
func (h *AdminHandler) TriggerScrape(w http.ResponseWriter, r *http.Request) {
	if h.scraper == nil {
		writeError(w, http.StatusServiceUnavailable, "scraper not running in this mode")
		return
	}

	if err := h.scraper.Trigger(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "triggered scrape failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "scrape failed")
		return
	}

	if h.audit != nil {
		entry := &domain.AuditEntry{
			Kind:   domain.AuditScrape,
			Actor:  "admin",
			Detail: map[string]any{"trigger": "api"},
		}
		if err := h.audit.Record(r.Context(), entry); err != nil {
			h.logger.WarnContext(r.Context(), "audit record failed", slog.String("error", err.Error()))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// ListAudit returns recent audit entries, newest first.
// GET /api/admin/audit?limit=100
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
	})
}

// ListArchives lists cold-storage archive objects.
// GET /api/admin/archives?prefix=archive/predictions/
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archival not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.archives.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"objects": infos,
		"prefix":  prefix,
	})
}
