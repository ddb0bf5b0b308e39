package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/platform/polymarket"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarketStore struct {
	domain.MarketStore
	markets  []*domain.Market
	priced   []domain.PriceQuote
	resolved map[string]domain.Side
}

func (f *fakeMarketStore) ListWithOpenPredictions(ctx context.Context) ([]*domain.Market, error) {
	return f.markets, nil
}

func (f *fakeMarketStore) UpdatePrices(ctx context.Context, quote domain.PriceQuote) error {
	f.priced = append(f.priced, quote)
	return nil
}

func (f *fakeMarketStore) Resolve(ctx context.Context, id string, winner domain.Side) error {
	if f.resolved == nil {
		f.resolved = map[string]domain.Side{}
	}
	f.resolved[id] = winner
	return nil
}

type fakePredStore struct {
	domain.PredictionStore
	open   map[string][]*domain.Prediction
	marked []*domain.Prediction
}

func (f *fakePredStore) ListOpenByMarket(ctx context.Context, marketID string) ([]*domain.Prediction, error) {
	return f.open[marketID], nil
}

func (f *fakePredStore) UpdateMarks(ctx context.Context, preds []*domain.Prediction) error {
	f.marked = append(f.marked, preds...)
	return nil
}

type fakePriceCache struct {
	domain.PriceCache
	quotes map[string]domain.PriceQuote
	set    []domain.PriceQuote
}

func (f *fakePriceCache) GetQuotes(ctx context.Context, ids []string) (map[string]domain.PriceQuote, error) {
	return f.quotes, nil
}

func (f *fakePriceCache) SetQuote(ctx context.Context, quote domain.PriceQuote) error {
	f.set = append(f.set, quote)
	return nil
}

type fakeQuoteSource struct {
	quotes      map[string]domain.PriceQuote
	resolutions map[string]polymarket.Resolution
	err         error
}

func (f *fakeQuoteSource) GetQuote(ctx context.Context, marketID string) (domain.PriceQuote, error) {
	if f.err != nil {
		return domain.PriceQuote{}, f.err
	}
	q, ok := f.quotes[marketID]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

func (f *fakeQuoteSource) GetResolution(ctx context.Context, marketID string) (polymarket.Resolution, error) {
	if res, ok := f.resolutions[marketID]; ok {
		return res, nil
	}
	return polymarket.Resolution{}, nil
}

type fakeSettler struct {
	settled []string
	voided  []string
}

func (f *fakeSettler) Settle(ctx context.Context, marketID string) (*domain.SettlementResult, error) {
	f.settled = append(f.settled, marketID)
	return &domain.SettlementResult{MarketID: marketID}, nil
}

func (f *fakeSettler) Void(ctx context.Context, marketID string) (*domain.SettlementResult, error) {
	f.voided = append(f.voided, marketID)
	return &domain.SettlementResult{MarketID: marketID, Voided: true}, nil
}

type fakeBus struct {
	domain.SignalBus
	published map[string][][]byte
}

func (f *fakeBus) Publish(ctx context.Context, channel string, data []byte) error {
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[channel] = append(f.published[channel], data)
	return nil
}

func activeMarket(id string) *domain.Market {
	return &domain.Market{
		ID:       id,
		Question: "will it happen",
		YesPrice: dec("0.5"),
		NoPrice:  dec("0.5"),
		Status:   domain.MarketActive,
	}
}

func openPrediction(id, marketID string, side domain.Side, stake, shares string) *domain.Prediction {
	return &domain.Prediction{
		ID:       id,
		AgentID:  "agent-1",
		MarketID: marketID,
		Side:     side,
		Stake:    dec(stake),
		Shares:   dec(shares),
		Status:   domain.PredictionOpen,
	}
}

func newTestTracker(
	markets *fakeMarketStore,
	preds *fakePredStore,
	prices *fakePriceCache,
	source *fakeQuoteSource,
	settler *fakeSettler,
	bus *fakeBus,
) *OddsTracker {
	return NewOddsTracker(markets, preds, prices, source, settler, bus, time.Second, 30*time.Second, discardLogger())
}

func TestCycleMarksOpenPredictions(t *testing.T) {
	markets := &fakeMarketStore{markets: []*domain.Market{activeMarket("m1")}}
	preds := &fakePredStore{open: map[string][]*domain.Prediction{
		"m1": {openPrediction("p1", "m1", domain.SideYes, "50", "100")},
	}}
	prices := &fakePriceCache{quotes: map[string]domain.PriceQuote{
		"m1": {MarketID: "m1", Yes: dec("0.60"), No: dec("0.40"), UpdatedAt: time.Now().UTC()},
	}}
	bus := &fakeBus{}
	tracker := newTestTracker(markets, preds, prices, &fakeQuoteSource{}, &fakeSettler{}, bus)

	require.NoError(t, tracker.Cycle(context.Background()))

	require.Len(t, preds.marked, 1)
	p := preds.marked[0]
	assert.True(t, p.ExpectedPayout.Equal(dec("60")), "payout: %s", p.ExpectedPayout)
	assert.True(t, p.UnrealizedPnL.Equal(dec("10")), "pnl: %s", p.UnrealizedPnL)
	assert.False(t, p.MarkedAt.IsZero())

	assert.Len(t, bus.published[domain.ChannelMarks], 1)
}

func TestCycleRefreshesStaleQuotes(t *testing.T) {
	markets := &fakeMarketStore{markets: []*domain.Market{activeMarket("m1")}}
	preds := &fakePredStore{open: map[string][]*domain.Prediction{
		"m1": {openPrediction("p1", "m1", domain.SideNo, "20", "40")},
	}}
	prices := &fakePriceCache{quotes: map[string]domain.PriceQuote{
		"m1": {MarketID: "m1", Yes: dec("0.9"), No: dec("0.1"), UpdatedAt: time.Now().Add(-time.Hour)},
	}}
	source := &fakeQuoteSource{quotes: map[string]domain.PriceQuote{
		"m1": {MarketID: "m1", Yes: dec("0.75"), No: dec("0.25"), UpdatedAt: time.Now().UTC()},
	}}
	tracker := newTestTracker(markets, preds, prices, source, &fakeSettler{}, &fakeBus{})

	require.NoError(t, tracker.Cycle(context.Background()))

	require.Len(t, prices.set, 1, "fresh quote cached")
	require.Len(t, markets.priced, 1, "fresh quote persisted")
	require.Len(t, preds.marked, 1)
	assert.True(t, preds.marked[0].ExpectedPayout.Equal(dec("10")), "40 shares at 0.25")
}

func TestCycleRoutesResolvedMarketsToSettlement(t *testing.T) {
	resolved := activeMarket("m-done")
	resolved.Status = domain.MarketResolved
	resolved.Winner = domain.SideYes
	voided := activeMarket("m-void")
	voided.Status = domain.MarketVoided

	markets := &fakeMarketStore{markets: []*domain.Market{resolved, voided}}
	settler := &fakeSettler{}
	tracker := newTestTracker(markets, &fakePredStore{}, &fakePriceCache{}, &fakeQuoteSource{}, settler, &fakeBus{})

	require.NoError(t, tracker.Cycle(context.Background()))

	assert.Equal(t, []string{"m-done"}, settler.settled)
	assert.Equal(t, []string{"m-void"}, settler.voided)
}

func TestCycleVoidsVanishedMarkets(t *testing.T) {
	markets := &fakeMarketStore{markets: []*domain.Market{activeMarket("m-gone")}}
	settler := &fakeSettler{}
	// No cached quote and the upstream has never heard of the market.
	tracker := newTestTracker(markets, &fakePredStore{}, &fakePriceCache{}, &fakeQuoteSource{}, settler, &fakeBus{})

	require.NoError(t, tracker.Cycle(context.Background()))

	assert.Equal(t, []string{"m-gone"}, settler.voided)
	assert.Empty(t, settler.settled)
}

func TestCycleResolvesExpiredMarketFromUpstream(t *testing.T) {
	m := activeMarket("m-exp")
	m.EndDate = time.Now().Add(-time.Hour)

	markets := &fakeMarketStore{markets: []*domain.Market{m}}
	source := &fakeQuoteSource{
		quotes: map[string]domain.PriceQuote{
			"m-exp": {MarketID: "m-exp", Yes: dec("0.99"), No: dec("0.01"), UpdatedAt: time.Now().UTC()},
		},
		resolutions: map[string]polymarket.Resolution{
			"m-exp": {Resolved: true, Winner: domain.SideYes},
		},
	}
	settler := &fakeSettler{}
	tracker := newTestTracker(markets, &fakePredStore{}, &fakePriceCache{}, source, settler, &fakeBus{})

	require.NoError(t, tracker.Cycle(context.Background()))

	assert.Equal(t, domain.SideYes, markets.resolved["m-exp"])
	assert.Equal(t, []string{"m-exp"}, settler.settled)
}

func TestCycleSkipsMarketOnRefreshError(t *testing.T) {
	markets := &fakeMarketStore{markets: []*domain.Market{activeMarket("m1")}}
	preds := &fakePredStore{open: map[string][]*domain.Prediction{
		"m1": {openPrediction("p1", "m1", domain.SideYes, "10", "20")},
	}}
	source := &fakeQuoteSource{err: errors.New("gamma timeout")}
	bus := &fakeBus{}
	tracker := newTestTracker(markets, preds, &fakePriceCache{}, source, &fakeSettler{}, bus)

	require.NoError(t, tracker.Cycle(context.Background()))

	assert.Empty(t, preds.marked, "stale price never zeroes marks")
	assert.Empty(t, bus.published)
}

func TestCycleRejectsStaleUpstreamQuote(t *testing.T) {
	markets := &fakeMarketStore{markets: []*domain.Market{activeMarket("m1")}}
	preds := &fakePredStore{open: map[string][]*domain.Prediction{
		"m1": {openPrediction("p1", "m1", domain.SideYes, "10", "20")},
	}}
	// Upstream serves a last-known price from an hour ago.
	source := &fakeQuoteSource{quotes: map[string]domain.PriceQuote{
		"m1": {MarketID: "m1", Yes: dec("0.5"), No: dec("0.5"), UpdatedAt: time.Now().Add(-time.Hour)},
	}}
	prices := &fakePriceCache{}
	bus := &fakeBus{}
	tracker := newTestTracker(markets, preds, prices, source, &fakeSettler{}, bus)

	_, err := tracker.refreshQuote(context.Background(), activeMarket("m1"))
	require.ErrorIs(t, err, domain.ErrPriceStale)

	require.NoError(t, tracker.Cycle(context.Background()))
	assert.Empty(t, prices.set, "stale quote never cached")
	assert.Empty(t, preds.marked, "stale quote never marks")
	assert.Empty(t, bus.published)
}

// blockingMarketStore parks the first list call until released, keeping a
// cycle in flight.
type blockingMarketStore struct {
	domain.MarketStore
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingMarketStore) ListWithOpenPredictions(ctx context.Context) ([]*domain.Market, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-b.release
	}
	return nil, nil
}

func TestCycleRefusesToOverlap(t *testing.T) {
	store := &blockingMarketStore{entered: make(chan struct{}), release: make(chan struct{})}
	tracker := NewOddsTracker(store, &fakePredStore{}, &fakePriceCache{}, &fakeQuoteSource{},
		&fakeSettler{}, &fakeBus{}, time.Second, 30*time.Second, discardLogger())

	first := make(chan error, 1)
	go func() { first <- tracker.Cycle(context.Background()) }()
	<-store.entered

	// The second pass bails out without touching the store.
	require.NoError(t, tracker.Cycle(context.Background()))
	assert.Equal(t, int32(1), store.calls.Load())

	close(store.release)
	require.NoError(t, <-first)

	// With the first pass finished the tracker accepts work again.
	require.NoError(t, tracker.Cycle(context.Background()))
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestCycleNoMarketsIsNoop(t *testing.T) {
	bus := &fakeBus{}
	tracker := newTestTracker(&fakeMarketStore{}, &fakePredStore{}, &fakePriceCache{}, &fakeQuoteSource{}, &fakeSettler{}, bus)

	require.NoError(t, tracker.Cycle(context.Background()))
	assert.Empty(t, bus.published)
}
