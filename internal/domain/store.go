package domain

import (
	"context"
	"time"
)

// ListOpts carries common pagination and time-window options for list
// queries. A zero value means "no constraint" for each field.
type ListOpts struct {
	Limit  int
	Offset int
	Since  time.Time
	Until  time.Time
}

// AgentStore persists agents and their ledger fields.
type AgentStore interface {
	// Create inserts a new agent. Returns ErrAlreadyExists on a name clash.
	Create(ctx context.Context, agent *Agent) error

	// Get returns one agent by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Agent, error)

	// List returns agents ordered by creation time, newest first.
	List(ctx context.Context, opts ListOpts) ([]*Agent, error)

	// ListActive returns all active agents, for the simulation engine and
	// leaderboard rebuilds.
	ListActive(ctx context.Context) ([]*Agent, error)

	// Retire marks an agent retired. Returns ErrNotFound when absent.
	Retire(ctx context.Context, id string) error

	// Reconcile replays the agent's settled predictions against its starting
	// balance and reports drift from the recorded balance. When repair is
	// true and drift is found, the recorded balance is corrected in the same
	// transaction.
	Reconcile(ctx context.Context, id string, repair bool) (*ReconcileReport, error)
}

// MarketStore persists the local market mirror.
type MarketStore interface {
	// Upsert inserts or updates a single market keyed by id.
	Upsert(ctx context.Context, market *Market) error

	// UpsertBatch upserts many markets in one round trip.
	UpsertBatch(ctx context.Context, markets []*Market) error

	// Get returns one market by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Market, error)

	// ListActive returns active markets ordered by volume, highest first.
	ListActive(ctx context.Context, opts ListOpts) ([]*Market, error)

	// ListWithOpenPredictions returns every market that has at least one
	// open prediction, regardless of market status. This is the tracker's
	// working set.
	ListWithOpenPredictions(ctx context.Context) ([]*Market, error)

	// UpdatePrices stores refreshed yes/no prices for a market.
	UpdatePrices(ctx context.Context, quote PriceQuote) error

	// Resolve marks a market resolved with the winning side.
	Resolve(ctx context.Context, id string, winner Side) error

	// Void marks a market voided.
	Void(ctx context.Context, id string) error
}

// PredictionStore persists predictions. Placement and settlement are
// transactional: they move money and rows together or not at all.
type PredictionStore interface {
	// Place inserts the prediction and debits the agent's balance in one
	// transaction. Returns ErrInsufficientFunds when the stake exceeds the
	// balance and ErrAgentRetired for deactivated agents.
	Place(ctx context.Context, p *Prediction) error

	// Get returns one prediction by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Prediction, error)

	// ListByAgent returns an agent's predictions, newest first.
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]*Prediction, error)

	// ListByStatus returns predictions in the given status, newest first.
	ListByStatus(ctx context.Context, status PredictionStatus, opts ListOpts) ([]*Prediction, error)

	// ListOpenByMarket returns the open predictions for one market.
	ListOpenByMarket(ctx context.Context, marketID string) ([]*Prediction, error)

	// ListOpenByAgent returns every open prediction the agent holds,
	// oldest first.
	ListOpenByAgent(ctx context.Context, agentID string) ([]*Prediction, error)

	// UpdateMarks persists refreshed expected payout and unrealized P&L for
	// a batch of open predictions.
	UpdateMarks(ctx context.Context, preds []*Prediction) error

	// SettleMarket settles every open prediction on the market against the
	// winning side: winners are credited shares at 1.00, and agent win/loss
	// counters and cumulative realized P&L update in the same transaction.
	// Re-settling a market whose predictions already left the open state
	// returns ErrAlreadySettled; a market that never had predictions
	// settles to an empty result.
	SettleMarket(ctx context.Context, marketID string, winner Side) (*SettlementResult, error)

	// VoidMarket refunds the stake of every open prediction on the market.
	VoidMarket(ctx context.Context, marketID string) (*SettlementResult, error)

	// ListSettledBefore returns settled predictions older than the cutoff,
	// oldest first, for archival.
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Prediction, error)

	// DeleteSettledBefore removes settled predictions older than the cutoff
	// and returns the number of rows removed.
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore records admin-visible operations.
type AuditStore interface {
	Record(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]*AuditEntry, error)
}
