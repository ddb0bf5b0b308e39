package sim

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type enginePredStore struct {
	domain.PredictionStore
	open   []*domain.Prediction
	placed []*domain.Prediction
}

func (f *enginePredStore) ListOpenByAgent(ctx context.Context, agentID string) ([]*domain.Prediction, error) {
	return f.open, nil
}

func (f *enginePredStore) Place(ctx context.Context, p *domain.Prediction) error {
	f.placed = append(f.placed, p)
	return nil
}

type engineMarketStore struct {
	domain.MarketStore
	markets []*domain.Market
}

func (f *engineMarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]*domain.Market, error) {
	return f.markets, nil
}

func (f *engineMarketStore) Get(ctx context.Context, id string) (*domain.Market, error) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, domain.ErrNotFound
}

type engineAgentStore struct {
	domain.AgentStore
	agents []*domain.Agent
}

func (f *engineAgentStore) ListActive(ctx context.Context) ([]*domain.Agent, error) {
	return f.agents, nil
}

func TestRoundSkipsMarketsAlreadyHeld(t *testing.T) {
	lopsided := market("m1", "0.92", "0.08")
	agent := testAgent()
	agent.Strategy = "contrarian"

	// A position placed long ago is still a position. The open set, not
	// recency, decides whether the agent doubles up.
	held := &domain.Prediction{
		ID:       "p0",
		AgentID:  agent.ID,
		MarketID: "m1",
		Side:     domain.SideNo,
		Stake:    dec("30"),
		Status:   domain.PredictionOpen,
		PlacedAt: time.Now().Add(-30 * 24 * time.Hour),
	}

	preds := &enginePredStore{open: []*domain.Prediction{held}}
	markets := &engineMarketStore{markets: []*domain.Market{lopsided}}
	svc := service.NewPredictionService(preds, markets, nil, nil, nil, nil, nil, testLogger())
	engine := NewEngine(
		&engineAgentStore{agents: []*domain.Agent{agent}},
		markets, svc, DefaultRegistry("", ""), time.Second, testLogger(),
	)

	require.NoError(t, engine.Round(context.Background()))
	assert.Empty(t, preds.placed, "held market is never bet twice")

	// Without the held position the same round fades the favorite.
	preds.open = nil
	require.NoError(t, engine.Round(context.Background()))
	require.Len(t, preds.placed, 1)
	assert.Equal(t, "m1", preds.placed[0].MarketID)
	assert.Equal(t, domain.SideNo, preds.placed[0].Side)
}
