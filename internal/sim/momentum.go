package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// momentumStake is the fraction of balance wagered per momentum bet.
var momentumStake = decimal.RequireFromString("0.05")

// momentumThreshold is the minimum price move since the last observation
// that counts as a trend.
var momentumThreshold = decimal.RequireFromString("0.02")

// Momentum follows recent price direction: it remembers the yes price it
// last saw per market and backs the side that moved up by at least the
// threshold since then.
type Momentum struct {
	mu       sync.Mutex
	lastSeen map[string]decimal.Decimal
}

var _ Strategy = (*Momentum)(nil)

// NewMomentum creates a Momentum strategy.
func NewMomentum() *Momentum {
	return &Momentum{lastSeen: make(map[string]decimal.Decimal)}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Description() string {
	return "Backs the side whose price is trending up."
}

// Pick scans for the largest upward move since the previous round.
func (m *Momentum) Pick(ctx context.Context, agent *domain.Agent, markets []*domain.Market, open []*domain.Prediction) (*Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Decision
	var bestMove decimal.Decimal

	for _, market := range markets {
		prev, seen := m.lastSeen[market.ID]
		m.lastSeen[market.ID] = market.YesPrice
		if !seen || hasOpen(open, market.ID) {
			continue
		}

		move := market.YesPrice.Sub(prev)
		side := domain.SideYes
		if move.IsNegative() {
			move = move.Neg()
			side = domain.SideNo
		}
		if move.LessThan(momentumThreshold) || move.LessThanOrEqual(bestMove) {
			continue
		}

		bestMove = move
		best = &Decision{
			MarketID: market.ID,
			Side:     side,
			Stake:    stakeFraction(agent, momentumStake),
			Reason:   fmt.Sprintf("yes price moved %s", market.YesPrice.Sub(prev)),
		}
	}

	if best == nil || !best.Stake.IsPositive() {
		return nil, nil
	}
	return best, nil
}
