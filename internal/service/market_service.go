package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arenalabs/agentarena/internal/domain"
)

// marketCacheTTL bounds how long a market row may be served from cache.
const marketCacheTTL = 30 * time.Second

// MarketService serves the local market mirror, cache first.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	prices  domain.PriceCache
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache and bus may be nil; the
// service degrades to store-only reads and skips event publishing.
func NewMarketService(
	markets domain.MarketStore,
	cache domain.MarketCache,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		prices:  prices,
		bus:     bus,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// GetMarket returns one market, trying the cache before the store and
// back-filling the cache on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		} else if !errors.Is(err, domain.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "market cache read failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.markets.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m, marketCacheTTL); err != nil {
			s.logger.WarnContext(ctx, "market cache backfill failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// ListActive returns active markets ordered by volume.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts) ([]*domain.Market, error) {
	return s.markets.ListActive(ctx, opts)
}

// SyncMarkets upserts a scraped page of markets, refreshes the price cache
// with their quotes, invalidates cached rows, and announces the sync.
func (s *MarketService) SyncMarkets(ctx context.Context, markets []*domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	if err := s.markets.UpsertBatch(ctx, markets); err != nil {
		return fmt.Errorf("service: sync markets: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range markets {
		if s.cache != nil {
			_ = s.cache.Invalidate(ctx, m.ID)
		}
		if s.prices != nil && m.Status == domain.MarketActive {
			quote := domain.PriceQuote{
				MarketID:  m.ID,
				Yes:       m.YesPrice,
				No:        m.NoPrice,
				UpdatedAt: now,
			}
			if err := s.prices.SetQuote(ctx, quote); err != nil {
				s.logger.WarnContext(ctx, "price cache seed failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.publishSync(ctx, len(markets))
	return nil
}

func (s *MarketService) publishSync(ctx context.Context, count int) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{
		Type:      "markets_synced",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"count": count},
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
		s.logger.WarnContext(ctx, "publish markets event failed", slog.String("error", err.Error()))
	}
}
