package sim

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/service"
)

// minStake is the smallest wager the engine will place; dust bets from
// nearly broke agents are dropped.
var minStake = decimal.RequireFromString("1")

// marketScanLimit bounds how many active markets each round considers.
const marketScanLimit = 50

// Engine runs one betting round per interval: every active agent's strategy
// looks at the active markets and may place one bet through the prediction
// service, so the sim obeys the same balance rules as the API.
type Engine struct {
	agents   domain.AgentStore
	markets  domain.MarketStore
	preds    *service.PredictionService
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewEngine creates an Engine. interval defaults to 30s when non-positive.
func NewEngine(
	agents domain.AgentStore,
	markets domain.MarketStore,
	preds *service.PredictionService,
	registry *Registry,
	interval time.Duration,
	logger *slog.Logger,
) *Engine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		agents:   agents,
		markets:  markets,
		preds:    preds,
		registry: registry,
		interval: interval,
		logger:   logger.With(slog.String("component", "sim_engine")),
	}
}

// Registry exposes the strategy registry for API listings.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run executes rounds on the configured interval until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Round(ctx); err != nil {
				e.logger.ErrorContext(ctx, "sim round failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Round runs one betting round across all active agents.
func (e *Engine) Round(ctx context.Context) error {
	agents, err := e.agents.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return nil
	}

	markets, err := e.markets.ListActive(ctx, domain.ListOpts{Limit: marketScanLimit})
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return nil
	}

	placed := 0
	for _, agent := range agents {
		if e.runAgent(ctx, agent, markets) {
			placed++
		}
	}

	e.logger.InfoContext(ctx, "sim round complete",
		slog.Int("agents", len(agents)),
		slog.Int("bets", placed),
	)
	return nil
}

// runAgent asks one agent's strategy for a pick and places it. Reports
// whether a bet was placed.
func (e *Engine) runAgent(ctx context.Context, agent *domain.Agent, markets []*domain.Market) bool {
	strategy, err := e.registry.Get(agent.Strategy)
	if err != nil {
		// Manually driven agents have no registered strategy; skip quietly.
		return false
	}

	// The full open set, not a recent page: an agent with a deep history
	// must still see every market it already holds a position on.
	open, err := e.preds.ListOpenByAgent(ctx, agent.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "list open predictions failed",
			slog.String("agent_id", agent.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	decision, err := strategy.Pick(ctx, agent, markets, open)
	if err != nil {
		e.logger.WarnContext(ctx, "strategy pick failed",
			slog.String("agent_id", agent.ID),
			slog.String("strategy", agent.Strategy),
			slog.String("error", err.Error()),
		)
		return false
	}
	if decision == nil || decision.Stake.LessThan(minStake) {
		return false
	}

	_, err = e.preds.Place(ctx, service.PlaceParams{
		AgentID:  agent.ID,
		MarketID: decision.MarketID,
		Side:     decision.Side,
		Stake:    decision.Stake,
	})
	if err != nil {
		// Losing the race to a closing market or running out of funds is
		// normal sim behavior, not an error worth alerting on.
		if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrMarketClosed) {
			e.logger.DebugContext(ctx, "sim bet rejected",
				slog.String("agent_id", agent.ID),
				slog.String("market_id", decision.MarketID),
				slog.String("error", err.Error()),
			)
			return false
		}
		e.logger.WarnContext(ctx, "sim bet failed",
			slog.String("agent_id", agent.ID),
			slog.String("market_id", decision.MarketID),
			slog.String("error", err.Error()),
		)
		return false
	}

	e.logger.InfoContext(ctx, "sim bet placed",
		slog.String("agent_id", agent.ID),
		slog.String("strategy", agent.Strategy),
		slog.String("market_id", decision.MarketID),
		slog.String("side", string(decision.Side)),
		slog.String("stake", decision.Stake.String()),
		slog.String("reason", decision.Reason),
	)
	return true
}

// DefaultRegistry returns a registry with every built-in strategy. The
// oracle is registered even without an API key; it simply never bets.
func DefaultRegistry(openaiKey, openaiModel string) *Registry {
	r := NewRegistry()
	r.Register(NewMomentum())
	r.Register(NewContrarian())
	r.Register(NewLongshot())
	r.Register(NewOracle(openaiKey, openaiModel))
	return r
}
