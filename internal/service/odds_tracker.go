package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/platform/polymarket"
)

// quoteSource is the upstream fallback when the price cache misses or the
// cached quote is stale.
type quoteSource interface {
	GetQuote(ctx context.Context, marketID string) (domain.PriceQuote, error)
	GetResolution(ctx context.Context, marketID string) (polymarket.Resolution, error)
}

// settler closes out a market's predictions once its outcome is known.
type settler interface {
	Settle(ctx context.Context, marketID string) (*domain.SettlementResult, error)
	Void(ctx context.Context, marketID string) (*domain.SettlementResult, error)
}

// OddsTracker is the mark-to-market engine. Every cycle it walks the
// markets holding open predictions, refreshes their prices, recomputes each
// open prediction's expected payout and unrealized P&L, persists the marks
// in batch, and publishes them. Markets found resolved upstream are handed
// to settlement; markets deleted upstream are voided.
type OddsTracker struct {
	markets  domain.MarketStore
	preds    domain.PredictionStore
	prices   domain.PriceCache
	source   quoteSource
	settler  settler
	bus      domain.SignalBus
	interval time.Duration
	staleAge time.Duration
	logger   *slog.Logger

	// running guards against overlapping cycles when one runs long.
	running atomic.Bool
}

// NewOddsTracker creates an OddsTracker. interval defaults to 5s and
// staleAge to 30s when non-positive.
func NewOddsTracker(
	markets domain.MarketStore,
	preds domain.PredictionStore,
	prices domain.PriceCache,
	source quoteSource,
	settler settler,
	bus domain.SignalBus,
	interval, staleAge time.Duration,
	logger *slog.Logger,
) *OddsTracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if staleAge <= 0 {
		staleAge = 30 * time.Second
	}
	return &OddsTracker{
		markets:  markets,
		preds:    preds,
		prices:   prices,
		source:   source,
		settler:  settler,
		bus:      bus,
		interval: interval,
		staleAge: staleAge,
		logger:   logger.With(slog.String("component", "odds_tracker")),
	}
}

// Run executes cycles on the configured interval until the context is
// cancelled. The first cycle runs immediately.
func (t *OddsTracker) Run(ctx context.Context) error {
	if err := t.Cycle(ctx); err != nil {
		t.logger.ErrorContext(ctx, "tracker cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Cycle(ctx); err != nil {
				t.logger.ErrorContext(ctx, "tracker cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Cycle runs one mark-to-market pass. A pass that would overlap a still
// running one is skipped.
func (t *OddsTracker) Cycle(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		t.logger.WarnContext(ctx, "tracker cycle still running, skipping")
		return nil
	}
	defer t.running.Store(false)

	started := time.Now()

	markets, err := t.markets.ListWithOpenPredictions(ctx)
	if err != nil {
		return fmt.Errorf("service: tracker: list markets: %w", err)
	}
	if len(markets) == 0 {
		return nil
	}

	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}

	cached, err := t.prices.GetQuotes(ctx, ids)
	if err != nil {
		t.logger.WarnContext(ctx, "price cache read failed", slog.String("error", err.Error()))
		cached = map[string]domain.PriceQuote{}
	}

	now := time.Now().UTC()
	var allMarks []domain.MarkUpdate
	var toPersist []*domain.Prediction
	marked := 0

	for _, market := range markets {
		if market.Status == domain.MarketResolved || market.Status == domain.MarketVoided {
			t.handleClosed(ctx, market)
			continue
		}

		quote, ok := cached[market.ID]
		if !ok || quote.StaleAfter(t.staleAge, now) {
			fresh, err := t.refreshQuote(ctx, market)
			if err != nil {
				// Stale or missing prices never zero existing marks; the
				// market just sits out this cycle.
				t.logger.DebugContext(ctx, "quote refresh failed, skipping market",
					slog.String("market_id", market.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			quote = fresh
		}

		preds, err := t.preds.ListOpenByMarket(ctx, market.ID)
		if err != nil {
			t.logger.WarnContext(ctx, "list open predictions failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, p := range preds {
			price := domain.ClampPrice(quote.For(p.Side))
			p.Mark(price, now)
			toPersist = append(toPersist, p)
			allMarks = append(allMarks, domain.MarkUpdate{
				PredictionID:   p.ID,
				AgentID:        p.AgentID,
				MarketID:       p.MarketID,
				CurrentPrice:   price,
				ExpectedPayout: p.ExpectedPayout,
				UnrealizedPnL:  p.UnrealizedPnL,
			})
		}
		marked++
	}

	if len(toPersist) > 0 {
		if err := t.preds.UpdateMarks(ctx, toPersist); err != nil {
			return fmt.Errorf("service: tracker: persist marks: %w", err)
		}
	}

	elapsed := time.Since(started)
	t.logger.DebugContext(ctx, "tracker cycle complete",
		slog.Int("markets", marked),
		slog.Int("marks", len(allMarks)),
		slog.Duration("elapsed", elapsed),
	)

	t.publishMarks(ctx, allMarks, marked, elapsed)
	return nil
}

// refreshQuote pulls a fresh quote from upstream and caches it. On the way
// it notices markets that closed or vanished upstream.
func (t *OddsTracker) refreshQuote(ctx context.Context, market *domain.Market) (domain.PriceQuote, error) {
	quote, err := t.source.GetQuote(ctx, market.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			t.voidVanished(ctx, market)
		}
		return domain.PriceQuote{}, err
	}

	// Upstream can serve a last-known price for a dead book. A stale quote
	// is never cached and never marks a position.
	if quote.StaleAfter(t.staleAge, time.Now().UTC()) {
		// A market past its end date may have resolved; check before the
		// market sits out the cycle.
		if !market.EndDate.IsZero() && time.Now().After(market.EndDate) {
			t.checkResolution(ctx, market)
		}
		return domain.PriceQuote{}, fmt.Errorf("service: tracker: market %s quote from %s: %w",
			market.ID, quote.UpdatedAt.Format(time.RFC3339), domain.ErrPriceStale)
	}

	if err := t.prices.SetQuote(ctx, quote); err != nil {
		t.logger.WarnContext(ctx, "price cache write failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := t.markets.UpdatePrices(ctx, quote); err != nil {
		t.logger.WarnContext(ctx, "market price persist failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}

	// A market past its end date may have resolved; check before the next
	// mark would be computed from a dead price.
	if !market.EndDate.IsZero() && time.Now().After(market.EndDate) {
		t.checkResolution(ctx, market)
	}

	return quote, nil
}

// handleClosed routes an already resolved or voided market to settlement.
func (t *OddsTracker) handleClosed(ctx context.Context, market *domain.Market) {
	if t.settler == nil {
		return
	}

	var err error
	if market.Status == domain.MarketVoided {
		_, err = t.settler.Void(ctx, market.ID)
	} else {
		_, err = t.settler.Settle(ctx, market.ID)
	}
	// Another process finishing first shows up as a held lock or an
	// already settled market; neither is a failure.
	if err != nil && !errors.Is(err, domain.ErrLockHeld) && !errors.Is(err, domain.ErrAlreadySettled) {
		t.logger.ErrorContext(ctx, "settlement failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}
}

// checkResolution asks upstream whether the market resolved and records the
// winner so the next cycle settles it.
func (t *OddsTracker) checkResolution(ctx context.Context, market *domain.Market) {
	res, err := t.source.GetResolution(ctx, market.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			t.voidVanished(ctx, market)
			return
		}
		t.logger.DebugContext(ctx, "resolution check failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !res.Resolved {
		return
	}

	if err := t.markets.Resolve(ctx, market.ID, res.Winner); err != nil {
		t.logger.ErrorContext(ctx, "market resolve failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	t.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", market.ID),
		slog.String("winner", string(res.Winner)),
	)

	if t.settler != nil {
		if _, err := t.settler.Settle(ctx, market.ID); err != nil &&
			!errors.Is(err, domain.ErrLockHeld) && !errors.Is(err, domain.ErrAlreadySettled) {
			t.logger.ErrorContext(ctx, "settlement failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// voidVanished voids a market that disappeared upstream and refunds stakes.
func (t *OddsTracker) voidVanished(ctx context.Context, market *domain.Market) {
	t.logger.WarnContext(ctx, "market vanished upstream, voiding",
		slog.String("market_id", market.ID),
	)
	if t.settler == nil {
		return
	}
	if _, err := t.settler.Void(ctx, market.ID); err != nil && !errors.Is(err, domain.ErrLockHeld) {
		t.logger.ErrorContext(ctx, "void failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (t *OddsTracker) publishMarks(ctx context.Context, marks []domain.MarkUpdate, markets int, elapsed time.Duration) {
	if t.bus == nil || len(marks) == 0 {
		return
	}

	payload, err := json.Marshal(domain.Event{
		Type:      "marks",
		Timestamp: time.Now().UTC(),
		Payload: domain.MarksEvent{
			Marks:   marks,
			Markets: markets,
			Elapsed: elapsed.Round(time.Millisecond).String(),
		},
	})
	if err != nil {
		return
	}
	if err := t.bus.Publish(ctx, domain.ChannelMarks, payload); err != nil {
		t.logger.WarnContext(ctx, "publish marks failed", slog.String("error", err.Error()))
	}
}
