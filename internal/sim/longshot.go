package sim

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// longshotStake is the fraction of balance wagered per longshot bet. Kept
// small: most longshots lose.
var longshotStake = decimal.RequireFromString("0.01")

// longshotCeiling is the maximum price that still counts as a longshot.
var longshotCeiling = decimal.RequireFromString("0.10")

// Longshot puts small stakes on the cheapest outcome it can find, chasing
// the payout multiple rather than the hit rate.
type Longshot struct{}

var _ Strategy = (*Longshot)(nil)

// NewLongshot creates a Longshot strategy.
func NewLongshot() *Longshot {
	return &Longshot{}
}

func (l *Longshot) Name() string { return "longshot" }

func (l *Longshot) Description() string {
	return "Small stakes on the cheapest outcomes."
}

func (l *Longshot) Pick(ctx context.Context, agent *domain.Agent, markets []*domain.Market, open []*domain.Prediction) (*Decision, error) {
	var best *Decision
	cheapest := longshotCeiling.Add(decimal.New(1, -6))

	for _, market := range markets {
		if hasOpen(open, market.ID) {
			continue
		}

		price := market.YesPrice
		side := domain.SideYes
		if market.NoPrice.LessThan(price) {
			price = market.NoPrice
			side = domain.SideNo
		}
		if price.GreaterThan(longshotCeiling) || price.GreaterThanOrEqual(cheapest) || !price.IsPositive() {
			continue
		}

		cheapest = price
		best = &Decision{
			MarketID: market.ID,
			Side:     side,
			Stake:    stakeFraction(agent, longshotStake),
			Reason:   fmt.Sprintf("longshot at %s", price),
		}
	}

	if best == nil || !best.Stake.IsPositive() {
		return nil, nil
	}
	return best, nil
}
