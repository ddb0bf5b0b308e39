package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
)

type fakeFetcher struct {
	pages [][]*domain.Market
	calls int
	err   error
}

func (f *fakeFetcher) ListMarkets(ctx context.Context, limit, offset int) ([]*domain.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := offset / limit
	f.calls++
	if page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page], nil
}

type fakeSyncer struct {
	batches [][]*domain.Market
	err     error
}

func (f *fakeSyncer) SyncMarkets(ctx context.Context, markets []*domain.Market) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, markets)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeMarkets(n int) []*domain.Market {
	markets := make([]*domain.Market, n)
	for i := range markets {
		markets[i] = &domain.Market{ID: "m", Status: domain.MarketActive}
	}
	return markets
}

func TestScraperPaginatesUntilShortPage(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]*domain.Market{
		makeMarkets(scrapePageSize),
		makeMarkets(scrapePageSize),
		makeMarkets(7),
	}}
	syncer := &fakeSyncer{}
	s := NewMarketScraper(syncer, fetcher, discard())

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, syncer.batches, 3)
	assert.Len(t, syncer.batches[2], 7)
	assert.Equal(t, 3, fetcher.calls, "short page ends the run without an extra fetch")
}

func TestScraperStopsOnEmptyFirstPage(t *testing.T) {
	fetcher := &fakeFetcher{}
	syncer := &fakeSyncer{}
	s := NewMarketScraper(syncer, fetcher, discard())

	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, syncer.batches)
}

func TestScraperPropagatesFetchError(t *testing.T) {
	wantErr := errors.New("upstream down")
	s := NewMarketScraper(&fakeSyncer{}, &fakeFetcher{err: wantErr}, discard())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestScraperPropagatesSyncError(t *testing.T) {
	wantErr := errors.New("db down")
	fetcher := &fakeFetcher{pages: [][]*domain.Market{makeMarkets(3)}}
	s := NewMarketScraper(&fakeSyncer{err: wantErr}, fetcher, discard())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestScraperRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{pages: [][]*domain.Market{makeMarkets(scrapePageSize)}}
	s := NewMarketScraper(&fakeSyncer{}, fetcher, discard())

	err := s.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextRunAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC), nextRunAt(now, 3))

	past := time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), nextRunAt(past, 3))

	exact := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), nextRunAt(exact, 3))
}
