// Package pipeline holds the background loops that keep the market mirror
// and cold storage current: the Gamma scraper and the archive runner.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arenalabs/agentarena/internal/domain"
)

// scrapePageSize is how many markets each Gamma page request asks for.
const scrapePageSize = 100

// scrapeMaxPages bounds a single scrape run so a misbehaving upstream
// cannot keep us paginating forever.
const scrapeMaxPages = 50

// MarketSyncer persists a batch of mirrored markets.
type MarketSyncer interface {
	SyncMarkets(ctx context.Context, markets []*domain.Market) error
}

// MarketFetcher retrieves a page of markets from the upstream API.
type MarketFetcher interface {
	ListMarkets(ctx context.Context, limit, offset int) ([]*domain.Market, error)
}

// MarketScraper paginates the Gamma markets endpoint and feeds each batch
// into the mirror.
type MarketScraper struct {
	syncer  MarketSyncer
	fetcher MarketFetcher
	trigger chan chan error
	logger  *slog.Logger
}

// NewMarketScraper creates a MarketScraper.
func NewMarketScraper(syncer MarketSyncer, fetcher MarketFetcher, logger *slog.Logger) *MarketScraper {
	return &MarketScraper{
		syncer:  syncer,
		fetcher: fetcher,
		trigger: make(chan chan error, 1),
		logger:  logger.With(slog.String("component", "market_scraper")),
	}
}

// Run executes a single scrape: it pages through the upstream markets and
// syncs each batch, stopping at the first short page.
func (s *MarketScraper) Run(ctx context.Context) error {
	start := time.Now()
	total := 0

	for page := 0; page < scrapeMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline: scrape cancelled: %w", err)
		}

		offset := page * scrapePageSize
		markets, err := s.fetcher.ListMarkets(ctx, scrapePageSize, offset)
		if err != nil {
			return fmt.Errorf("pipeline: fetch markets at offset %d: %w", offset, err)
		}
		if len(markets) == 0 {
			break
		}

		if err := s.syncer.SyncMarkets(ctx, markets); err != nil {
			return fmt.Errorf("pipeline: sync %d markets at offset %d: %w", len(markets), offset, err)
		}
		total += len(markets)

		if len(markets) < scrapePageSize {
			break
		}
	}

	s.logger.InfoContext(ctx, "market scrape complete",
		slog.Int("total_synced", total),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Trigger requests an out-of-band scrape from a running RunLoop and waits
// for it to finish. Used by the admin API.
func (s *MarketScraper) Trigger(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case s.trigger <- done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunLoop scrapes immediately, then on every interval tick or admin trigger,
// until the context is cancelled.
func (s *MarketScraper) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := s.Run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "market scrape failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market scraper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.ErrorContext(ctx, "market scrape failed", slog.String("error", err.Error()))
			}
		case done := <-s.trigger:
			err := s.Run(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "triggered scrape failed", slog.String("error", err.Error()))
			}
			done <- err
		}
	}
}
