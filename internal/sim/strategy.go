// Package sim drives the simulated agents: each active agent runs a named
// strategy that scans the market mirror and decides what to bet.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// Decision is a strategy's verdict on one market.
type Decision struct {
	MarketID string
	Side     domain.Side
	Stake    decimal.Decimal
	Reason   string
}

// Strategy decides bets for one agent. Pick receives the agent, the current
// active markets, and the agent's open predictions (so strategies can avoid
// doubling up). A nil decision means sit this round out.
type Strategy interface {
	// Name returns the registry key for this strategy.
	Name() string

	// Description returns a one-line summary for API listings.
	Description() string

	// Pick selects at most one bet for the round.
	Pick(ctx context.Context, agent *domain.Agent, markets []*domain.Market, open []*domain.Prediction) (*Decision, error)
}

// Registry is a thread-safe name-to-strategy map.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy. Re-registering a name overwrites it.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the named strategy.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("sim: unknown strategy %q", name)
	}
	return s, nil
}

// List returns registered strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StrategyInfo describes one registered strategy for API listings.
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListInfo returns name and description for every registered strategy.
func (r *Registry) ListInfo() []StrategyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]StrategyInfo, 0, len(r.strategies))
	for _, s := range r.strategies {
		infos = append(infos, StrategyInfo{Name: s.Name(), Description: s.Description()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// hasOpen reports whether the agent already has an open prediction on the
// market. Strategies use it to avoid stacking bets.
func hasOpen(open []*domain.Prediction, marketID string) bool {
	for _, p := range open {
		if p.MarketID == marketID {
			return true
		}
	}
	return false
}

// stakeFraction returns fraction of the agent's balance, floored at zero
// and rounded to cents.
func stakeFraction(agent *domain.Agent, fraction decimal.Decimal) decimal.Decimal {
	stake := agent.Balance.Mul(fraction).Round(2)
	if stake.IsNegative() {
		return decimal.Zero
	}
	return stake
}
