package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/service"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarkets struct {
	market *domain.Market
	err    error
}

func (f *fakeMarkets) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.market, nil
}

func (f *fakeMarkets) ListActive(ctx context.Context, opts domain.ListOpts) ([]*domain.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.market == nil {
		return nil, nil
	}
	return []*domain.Market{f.market}, nil
}

type fakePreds struct {
	pred *domain.Prediction
	err  error
}

func (f *fakePreds) Place(ctx context.Context, params service.PlaceParams) (*domain.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pred, nil
}

func (f *fakePreds) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pred, nil
}

func (f *fakePreds) ListByStatus(ctx context.Context, status domain.PredictionStatus, opts domain.ListOpts) ([]*domain.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*domain.Prediction{f.pred}, nil
}

// serve routes the request through a mux so path parameters resolve.
func serve(pattern string, fn http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, fn)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetMarketNotFound(t *testing.T) {
	h := NewMarketHandler(&fakeMarkets{err: domain.ErrNotFound}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1", nil)
	rec := serve("GET /api/markets/{id}", h.GetMarket, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "market not found")
}

func TestGetMarketOK(t *testing.T) {
	market := &domain.Market{ID: "m1", Question: "Will it rain?", Status: domain.MarketActive}
	h := NewMarketHandler(&fakeMarkets{market: market}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1", nil)
	rec := serve("GET /api/markets/{id}", h.GetMarket, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Market
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "m1", got.ID)
}

func TestListMarketsPagination(t *testing.T) {
	h := NewMarketHandler(&fakeMarkets{market: &domain.Market{ID: "m1"}}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/markets?limit=9999&offset=3", nil)
	rec := serve("GET /api/markets", h.ListMarkets, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 500, body.Limit, "limit is capped")
	assert.Equal(t, 3, body.Offset)
}

func TestPlacePredictionStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"market closed", domain.ErrMarketClosed, http.StatusConflict},
		{"agent retired", domain.ErrAgentRetired, http.StatusConflict},
		{"unknown market", domain.ErrNotFound, http.StatusNotFound},
		{"bad stake", domain.ErrInvalidStake, http.StatusBadRequest},
		{"degenerate price", domain.ErrInvalidPrice, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewPredictionHandler(&fakePreds{err: tc.err}, discard())

			body := `{"agent_id":"a1","market_id":"m1","side":"yes","stake":"25"}`
			req := httptest.NewRequest(http.MethodPost, "/api/predictions", strings.NewReader(body))
			rec := serve("POST /api/predictions", h.PlacePrediction, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestPlacePredictionCreated(t *testing.T) {
	pred := &domain.Prediction{
		ID:       "p1",
		AgentID:  "a1",
		MarketID: "m1",
		Side:     domain.SideYes,
		Stake:    decimal.RequireFromString("25"),
		Status:   domain.PredictionOpen,
	}
	h := NewPredictionHandler(&fakePreds{pred: pred}, discard())

	body := `{"agent_id":"a1","market_id":"m1","side":"yes","stake":"25"}`
	req := httptest.NewRequest(http.MethodPost, "/api/predictions", strings.NewReader(body))
	rec := serve("POST /api/predictions", h.PlacePrediction, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"p1"`)
}

func TestPlacePredictionRejectsUnknownFields(t *testing.T) {
	h := NewPredictionHandler(&fakePreds{}, discard())

	body := `{"agent_id":"a1","bogus":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/predictions", strings.NewReader(body))
	rec := serve("POST /api/predictions", h.PlacePrediction, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeAdminSettler struct {
	err error
}

func (f *fakeAdminSettler) Settle(ctx context.Context, marketID string) (*domain.SettlementResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SettlementResult{MarketID: marketID}, nil
}

func (f *fakeAdminSettler) Void(ctx context.Context, marketID string) (*domain.SettlementResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SettlementResult{MarketID: marketID, Voided: true}, nil
}

type fakeScrapeTrigger struct {
	calls int
}

func (f *fakeScrapeTrigger) Trigger(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeAuditLog struct {
	entries []*domain.AuditEntry
}

func (f *fakeAuditLog) Record(ctx context.Context, entry *domain.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditLog) List(ctx context.Context, opts domain.ListOpts) ([]*domain.AuditEntry, error) {
	return f.entries, nil
}

func TestSettleMarketAlreadySettledConflicts(t *testing.T) {
	h := NewAdminHandler(&fakeAdminSettler{err: domain.ErrAlreadySettled}, nil, nil, nil, nil, discard())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/settle/m1", nil)
	rec := serve("POST /api/admin/settle/{marketID}", h.SettleMarket, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already settled")
}

func TestTriggerScrapeRecordsAudit(t *testing.T) {
	scraper := &fakeScrapeTrigger{}
	audit := &fakeAuditLog{}
	h := NewAdminHandler(&fakeAdminSettler{}, nil, scraper, audit, nil, discard())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/scrape", nil)
	rec := serve("POST /api/admin/scrape", h.TriggerScrape, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, scraper.calls)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditScrape, audit.entries[0].Kind)
	assert.Equal(t, "admin", audit.entries[0].Actor)
}

func TestListPredictionsRejectsUnknownStatus(t *testing.T) {
	h := NewPredictionHandler(&fakePreds{pred: &domain.Prediction{}}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/predictions?status=pending", nil)
	rec := serve("GET /api/predictions", h.ListPredictions, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPredictionsDefaultsToOpen(t *testing.T) {
	h := NewPredictionHandler(&fakePreds{pred: &domain.Prediction{ID: "p1"}}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/predictions", nil)
	rec := serve("GET /api/predictions", h.ListPredictions, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"open"`)
}
