package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// settleLockTTL bounds how long a settlement pass may hold the per-market
// lock before it expires on its own.
const settleLockTTL = 30 * time.Second

// PlaceParams are the caller-supplied fields for a new prediction.
type PlaceParams struct {
	AgentID  string          `json:"agent_id"`
	MarketID string          `json:"market_id"`
	Side     domain.Side     `json:"side"`
	Stake    decimal.Decimal `json:"stake"`
}

// PredictionService owns the prediction lifecycle: placement, settlement,
// and voiding. Simulated agents and the HTTP API both place through here so
// balance invariants hold on every path.
type PredictionService struct {
	preds       domain.PredictionStore
	markets     domain.MarketStore
	agents      domain.AgentStore
	locks       domain.LockManager
	leaderboard *LeaderboardService
	audit       domain.AuditStore
	bus         domain.SignalBus
	logger      *slog.Logger
}

// NewPredictionService creates a PredictionService. locks, leaderboard,
// audit, and bus may be nil in reduced wiring.
func NewPredictionService(
	preds domain.PredictionStore,
	markets domain.MarketStore,
	agents domain.AgentStore,
	locks domain.LockManager,
	leaderboard *LeaderboardService,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		preds:       preds,
		markets:     markets,
		agents:      agents,
		locks:       locks,
		leaderboard: leaderboard,
		audit:       audit,
		bus:         bus,
		logger:      logger.With(slog.String("component", "prediction_service")),
	}
}

// Place validates the bet and commits it: the agent's balance is debited
// and the prediction inserted in one transaction. The entry price is the
// market's current price for the chosen side.
func (s *PredictionService) Place(ctx context.Context, params PlaceParams) (*domain.Prediction, error) {
	if !params.Side.Valid() {
		return nil, fmt.Errorf("service: place: invalid side %q", params.Side)
	}
	if !params.Stake.IsPositive() {
		return nil, fmt.Errorf("service: place: stake %s: %w", params.Stake, domain.ErrInvalidStake)
	}

	market, err := s.markets.Get(ctx, params.MarketID)
	if err != nil {
		return nil, fmt.Errorf("service: place: market %s: %w", params.MarketID, err)
	}
	if !market.Open() {
		return nil, fmt.Errorf("service: place: market %s: %w", params.MarketID, domain.ErrMarketClosed)
	}

	// The entry price must be a real probability. A zero or one price means
	// the mirror is carrying a degenerate quote; clamping it would sell
	// shares at 0.001 and hand out absurd leverage.
	price := market.PriceFor(params.Side)
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("service: place: market %s price %s: %w", params.MarketID, price, domain.ErrInvalidPrice)
	}
	entry := domain.ClampPrice(price)

	now := time.Now().UTC()
	p := &domain.Prediction{
		ID:         uuid.New().String(),
		AgentID:    params.AgentID,
		MarketID:   params.MarketID,
		Side:       params.Side,
		Stake:      params.Stake,
		EntryPrice: entry,
		Shares:     domain.SharesFor(params.Stake, entry),
		Status:     domain.PredictionOpen,
		PlacedAt:   now,
		MarkedAt:   now,
	}
	p.Mark(entry, now)

	if err := s.preds.Place(ctx, p); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "prediction placed",
		slog.String("prediction_id", p.ID),
		slog.String("agent_id", p.AgentID),
		slog.String("market_id", p.MarketID),
		slog.String("side", string(p.Side)),
		slog.String("stake", p.Stake.String()),
		slog.String("entry_price", p.EntryPrice.String()),
	)
	s.recordAudit(ctx, domain.AuditPredictionPlaced, map[string]any{
		"prediction_id": p.ID,
		"agent_id":      p.AgentID,
		"market_id":     p.MarketID,
		"side":          string(p.Side),
		"stake":         p.Stake.String(),
	})
	s.publishPlacement(ctx, p, market)

	return p, nil
}

// Get returns one prediction.
func (s *PredictionService) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	return s.preds.Get(ctx, id)
}

// ListByAgent returns an agent's predictions, newest first.
func (s *PredictionService) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]*domain.Prediction, error) {
	return s.preds.ListByAgent(ctx, agentID, opts)
}

// ListOpenByAgent returns every open prediction the agent holds.
func (s *PredictionService) ListOpenByAgent(ctx context.Context, agentID string) ([]*domain.Prediction, error) {
	return s.preds.ListOpenByAgent(ctx, agentID)
}

// ListByStatus returns predictions in the given status, newest first.
func (s *PredictionService) ListByStatus(ctx context.Context, status domain.PredictionStatus, opts domain.ListOpts) ([]*domain.Prediction, error) {
	return s.preds.ListByStatus(ctx, status, opts)
}

// Settle settles every open prediction on a resolved market. A per-market
// distributed lock makes the pass single-writer across processes; the
// status transition inside the store transaction makes it idempotent.
func (s *PredictionService) Settle(ctx context.Context, marketID string) (*domain.SettlementResult, error) {
	unlock, err := s.acquireSettleLock(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	market, err := s.markets.Get(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: settle: market %s: %w", marketID, err)
	}
	if market.Status == domain.MarketVoided {
		return s.voidLocked(ctx, market)
	}
	if market.Status != domain.MarketResolved || !market.Winner.Valid() {
		return nil, fmt.Errorf("service: settle: market %s: %w", marketID, domain.ErrMarketNotResolved)
	}

	result, err := s.preds.SettleMarket(ctx, marketID, market.Winner)
	if err != nil {
		return nil, err
	}

	s.finishSettlement(ctx, market, result, domain.AuditMarketSettled)
	return result, nil
}

// Void voids the market and refunds every open stake.
func (s *PredictionService) Void(ctx context.Context, marketID string) (*domain.SettlementResult, error) {
	unlock, err := s.acquireSettleLock(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	market, err := s.markets.Get(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: void: market %s: %w", marketID, err)
	}

	if market.Status != domain.MarketVoided {
		if err := s.markets.Void(ctx, marketID); err != nil {
			return nil, fmt.Errorf("service: void: market %s: %w", marketID, err)
		}
		market.Status = domain.MarketVoided
	}

	return s.voidLocked(ctx, market)
}

// voidLocked refunds open stakes. Caller holds the settle lock.
func (s *PredictionService) voidLocked(ctx context.Context, market *domain.Market) (*domain.SettlementResult, error) {
	result, err := s.preds.VoidMarket(ctx, market.ID)
	if err != nil {
		return nil, err
	}

	s.finishSettlement(ctx, market, result, domain.AuditMarketVoided)
	return result, nil
}

// acquireSettleLock takes the per-market settlement lock and returns a
// release closure bound to a background context, so the lock is freed even
// when the caller's context is already cancelled.
func (s *PredictionService) acquireSettleLock(ctx context.Context, marketID string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}

	lock, err := s.locks.Acquire(ctx, "settle:"+marketID, settleLockTTL)
	if err != nil {
		return nil, fmt.Errorf("service: settle lock %s: %w", marketID, err)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			s.logger.WarnContext(releaseCtx, "settle lock release failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}

func (s *PredictionService) finishSettlement(ctx context.Context, market *domain.Market, result *domain.SettlementResult, kind string) {
	s.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", market.ID),
		slog.String("winner", string(result.Winner)),
		slog.Bool("voided", result.Voided),
		slog.Int("won", result.Won),
		slog.Int("lost", result.Lost),
		slog.Int("refunded", result.Refunded),
		slog.String("total_paid", result.TotalPaid.String()),
	)

	s.recordAudit(ctx, kind, map[string]any{
		"market_id":  market.ID,
		"winner":     string(result.Winner),
		"voided":     result.Voided,
		"won":        result.Won,
		"lost":       result.Lost,
		"refunded":   result.Refunded,
		"total_paid": result.TotalPaid.String(),
	})

	if s.leaderboard != nil && result.Count() > 0 {
		if err := s.leaderboard.Rebuild(ctx); err != nil {
			s.logger.WarnContext(ctx, "leaderboard rebuild after settlement failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publishSettlement(ctx, market, result)
}

func (s *PredictionService) recordAudit(ctx context.Context, kind string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, &domain.AuditEntry{Kind: kind, Actor: "prediction_service", Detail: detail}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PredictionService) publishPlacement(ctx context.Context, p *domain.Prediction, market *domain.Market) {
	if s.bus == nil {
		return
	}

	event := domain.PredictionEvent{Prediction: p, Question: market.Question}
	if agent, err := s.agents.Get(ctx, p.AgentID); err == nil {
		event.AgentName = agent.Name
		event.Balance = agent.Balance
	}

	payload, err := json.Marshal(domain.Event{
		Type:      "prediction_placed",
		Timestamp: time.Now().UTC(),
		Payload:   event,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelPredictions, payload); err != nil {
		s.logger.WarnContext(ctx, "publish prediction failed", slog.String("error", err.Error()))
	}
}

func (s *PredictionService) publishSettlement(ctx context.Context, market *domain.Market, result *domain.SettlementResult) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.Event{
		Type:      "settlement_complete",
		Timestamp: time.Now().UTC(),
		Payload:   domain.SettlementEvent{Result: result, Question: market.Question},
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelSettlements, payload); err != nil {
		s.logger.WarnContext(ctx, "publish settlement failed", slog.String("error", err.Error()))
	}
	// Settlements also land on the durable stream for replay after
	// reconnect.
	if err := s.bus.Append(ctx, domain.ChannelSettlements, payload); err != nil {
		s.logger.WarnContext(ctx, "append settlement stream failed", slog.String("error", err.Error()))
	}
}
