package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
)

func (f *fakeMarketStore) Get(ctx context.Context, id string) (*domain.Market, error) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, domain.ErrNotFound
}

// capturePredStore records placements without a database behind it.
type capturePredStore struct {
	domain.PredictionStore
	placed []*domain.Prediction
}

func (f *capturePredStore) Place(ctx context.Context, p *domain.Prediction) error {
	f.placed = append(f.placed, p)
	return nil
}

func pricedMarket(id, yes, no string) *domain.Market {
	return &domain.Market{
		ID:       id,
		Question: "q-" + id,
		YesPrice: dec(yes),
		NoPrice:  dec(no),
		Status:   domain.MarketActive,
	}
}

func newPlaceService(markets *fakeMarketStore, preds *capturePredStore) *PredictionService {
	return NewPredictionService(preds, markets, nil, nil, nil, nil, nil, discardLogger())
}

func TestPlaceRejectsDegeneratePrices(t *testing.T) {
	cases := []struct {
		name string
		yes  string
		no   string
		side domain.Side
	}{
		{"zero price", "0", "1", domain.SideYes},
		{"price at one", "1", "0", domain.SideYes},
		{"zero no side", "1", "0", domain.SideNo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			markets := &fakeMarketStore{markets: []*domain.Market{pricedMarket("m1", tc.yes, tc.no)}}
			preds := &capturePredStore{}
			svc := newPlaceService(markets, preds)

			_, err := svc.Place(context.Background(), PlaceParams{
				AgentID:  "a1",
				MarketID: "m1",
				Side:     tc.side,
				Stake:    dec("100"),
			})

			require.ErrorIs(t, err, domain.ErrInvalidPrice)
			assert.Empty(t, preds.placed, "no shares minted off a dead quote")
		})
	}
}

func TestPlaceUsesCurrentPriceAsEntry(t *testing.T) {
	markets := &fakeMarketStore{markets: []*domain.Market{pricedMarket("m1", "0.60", "0.40")}}
	preds := &capturePredStore{}
	svc := newPlaceService(markets, preds)

	p, err := svc.Place(context.Background(), PlaceParams{
		AgentID:  "a1",
		MarketID: "m1",
		Side:     domain.SideYes,
		Stake:    dec("30"),
	})

	require.NoError(t, err)
	require.Len(t, preds.placed, 1)
	assert.True(t, p.EntryPrice.Equal(dec("0.60")), "entry %s", p.EntryPrice)
	assert.True(t, p.Shares.Equal(dec("50")), "shares %s", p.Shares)
	assert.Equal(t, domain.PredictionOpen, p.Status)
	assert.False(t, p.PlacedAt.After(time.Now().UTC()))
}

func TestPlaceClampsNearBoundaryPrices(t *testing.T) {
	// A real but extreme quote is tradable; it clamps to the floor instead
	// of being rejected.
	markets := &fakeMarketStore{markets: []*domain.Market{pricedMarket("m1", "0.0005", "0.9995")}}
	preds := &capturePredStore{}
	svc := newPlaceService(markets, preds)

	p, err := svc.Place(context.Background(), PlaceParams{
		AgentID:  "a1",
		MarketID: "m1",
		Side:     domain.SideYes,
		Stake:    dec("10"),
	})

	require.NoError(t, err)
	assert.True(t, p.EntryPrice.Equal(dec("0.001")), "entry %s", p.EntryPrice)
}

func TestPlaceRejectsClosedMarket(t *testing.T) {
	m := pricedMarket("m1", "0.60", "0.40")
	m.Status = domain.MarketResolved
	markets := &fakeMarketStore{markets: []*domain.Market{m}}
	svc := newPlaceService(markets, &capturePredStore{})

	_, err := svc.Place(context.Background(), PlaceParams{
		AgentID:  "a1",
		MarketID: "m1",
		Side:     domain.SideYes,
		Stake:    dec("10"),
	})

	require.ErrorIs(t, err, domain.ErrMarketClosed)
}
