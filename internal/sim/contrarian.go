package sim

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// contrarianStake is the fraction of balance wagered per contrarian bet.
var contrarianStake = decimal.RequireFromString("0.03")

// contrarianThreshold is the favorite price above which the crowd is
// considered overconfident.
var contrarianThreshold = decimal.RequireFromString("0.85")

// Contrarian fades extreme favorites: when one side trades above the
// threshold it backs the other side, picking the most lopsided market
// available.
type Contrarian struct{}

var _ Strategy = (*Contrarian)(nil)

// NewContrarian creates a Contrarian strategy.
func NewContrarian() *Contrarian {
	return &Contrarian{}
}

func (c *Contrarian) Name() string { return "contrarian" }

func (c *Contrarian) Description() string {
	return "Fades the most overbought favorite."
}

func (c *Contrarian) Pick(ctx context.Context, agent *domain.Agent, markets []*domain.Market, open []*domain.Prediction) (*Decision, error) {
	var best *Decision
	var bestFavorite decimal.Decimal

	for _, market := range markets {
		if hasOpen(open, market.ID) {
			continue
		}

		favorite := market.YesPrice
		side := domain.SideNo
		if market.NoPrice.GreaterThan(favorite) {
			favorite = market.NoPrice
			side = domain.SideYes
		}
		if favorite.LessThan(contrarianThreshold) || favorite.LessThanOrEqual(bestFavorite) {
			continue
		}

		bestFavorite = favorite
		best = &Decision{
			MarketID: market.ID,
			Side:     side,
			Stake:    stakeFraction(agent, contrarianStake),
			Reason:   fmt.Sprintf("fading favorite at %s", favorite),
		}
	}

	if best == nil || !best.Stake.IsPositive() {
		return nil, nil
	}
	return best, nil
}
