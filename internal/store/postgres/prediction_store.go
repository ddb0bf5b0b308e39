package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
// Placement and settlement run as single transactions so balances and
// prediction rows move together.
type PredictionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PredictionStore = (*PredictionStore)(nil)

// NewPredictionStore creates a PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionCols = `id, agent_id, market_id, side, stake, entry_price,
	shares, expected_payout, unrealized_pnl, realized_pnl,
	status, placed_at, settled_at, marked_at`

// scanPrediction scans a single prediction row.
func scanPrediction(row pgx.Row) (*domain.Prediction, error) {
	var p domain.Prediction
	var side, status string
	err := row.Scan(
		&p.ID, &p.AgentID, &p.MarketID, &side, &p.Stake, &p.EntryPrice,
		&p.Shares, &p.ExpectedPayout, &p.UnrealizedPnL, &p.RealizedPnL,
		&status, &p.PlacedAt, &p.SettledAt, &p.MarkedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PredictionStatus(status)
	return &p, nil
}

// Place inserts the prediction and debits the agent's balance in one
// transaction. The agent row is locked first so concurrent placements
// serialize on the balance check.
func (s *PredictionStore) Place(ctx context.Context, p *domain.Prediction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: place begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	var status string
	err = tx.QueryRow(ctx,
		`SELECT balance, status FROM agents WHERE id = $1 FOR UPDATE`,
		p.AgentID,
	).Scan(&balance, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: place: agent %s: %w", p.AgentID, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: place: lock agent %s: %w", p.AgentID, err)
	}

	if domain.AgentStatus(status) != domain.AgentActive {
		return fmt.Errorf("postgres: place: agent %s: %w", p.AgentID, domain.ErrAgentRetired)
	}
	if balance.LessThan(p.Stake) {
		return fmt.Errorf("postgres: place: agent %s balance %s stake %s: %w",
			p.AgentID, balance, p.Stake, domain.ErrInsufficientFunds)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE agents
		 SET balance = balance - $2, total_wagered = total_wagered + $2, updated_at = NOW()
		 WHERE id = $1`,
		p.AgentID, p.Stake,
	); err != nil {
		return fmt.Errorf("postgres: place: debit agent %s: %w", p.AgentID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO predictions (
			id, agent_id, market_id, side, stake, entry_price,
			shares, expected_payout, unrealized_pnl, realized_pnl,
			status, placed_at, marked_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, 0,
			$10, $11, $11
		)`,
		p.ID, p.AgentID, p.MarketID, string(p.Side), p.Stake, p.EntryPrice,
		p.Shares, p.ExpectedPayout, p.UnrealizedPnL,
		string(p.Status), p.PlacedAt,
	); err != nil {
		return fmt.Errorf("postgres: place: insert prediction %s: %w", p.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: place commit: %w", err)
	}
	return nil
}

// Get retrieves a prediction by id.
func (s *PredictionStore) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// ListByAgent returns an agent's predictions, newest first.
func (s *PredictionStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]*domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE agent_id = $1 ORDER BY placed_at DESC`
	args := []any{agentID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryPredictions(ctx, query, args...)
}

// ListByStatus returns predictions in the given status, newest first.
func (s *PredictionStore) ListByStatus(ctx context.Context, status domain.PredictionStatus, opts domain.ListOpts) ([]*domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE status = $1 ORDER BY placed_at DESC`
	args := []any{string(status)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryPredictions(ctx, query, args...)
}

// ListOpenByMarket returns the open predictions for one market.
func (s *PredictionStore) ListOpenByMarket(ctx context.Context, marketID string) ([]*domain.Prediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE market_id = $1 AND status = 'open' ORDER BY placed_at`,
		marketID)
}

// ListOpenByAgent returns every open prediction the agent holds, oldest
// first. Unbounded on purpose: strategies dedup against the full open set,
// not a recent page.
func (s *PredictionStore) ListOpenByAgent(ctx context.Context, agentID string) ([]*domain.Prediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE agent_id = $1 AND status = 'open' ORDER BY placed_at`,
		agentID)
}

func (s *PredictionStore) queryPredictions(ctx context.Context, query string, args ...any) ([]*domain.Prediction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions: %w", err)
	}
	defer rows.Close()

	var preds []*domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list predictions rows: %w", err)
	}
	return preds, nil
}

// UpdateMarks persists refreshed marks for a batch of open predictions.
func (s *PredictionStore) UpdateMarks(ctx context.Context, preds []*domain.Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		UPDATE predictions
		SET expected_payout = $2, unrealized_pnl = $3, marked_at = $4
		WHERE id = $1 AND status = 'open'`

	for _, p := range preds {
		batch.Queue(query, p.ID, p.ExpectedPayout, p.UnrealizedPnL, p.MarkedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range preds {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: update marks item %d: %w", i, err)
		}
	}
	return nil
}

// SettleMarket settles every open prediction on the market against the
// winning side. Winners are credited shares at 1.00 and their win counter
// increments; losers get nothing and their loss counter increments. Each
// settled stake also folds into the agent's cumulative realized_pnl, the
// counter reconciliation trusts once settled rows are archived. The whole
// pass is one transaction.
func (s *PredictionStore) SettleMarket(ctx context.Context, marketID string, winner domain.Side) (*domain.SettlementResult, error) {
	return s.settle(ctx, marketID, winner, false)
}

// VoidMarket refunds the stake of every open prediction on the market.
// Voided predictions count toward neither wins nor losses.
func (s *PredictionStore) VoidMarket(ctx context.Context, marketID string) (*domain.SettlementResult, error) {
	return s.settle(ctx, marketID, "", true)
}

func (s *PredictionStore) settle(ctx context.Context, marketID string, winner domain.Side, voided bool) (*domain.SettlementResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: settle begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the open predictions so a concurrent settlement pass blocks here.
	rows, err := tx.Query(ctx,
		`SELECT id, agent_id, side, stake, shares FROM predictions
		 WHERE market_id = $1 AND status = 'open'
		 ORDER BY id FOR UPDATE`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: settle %s: lock predictions: %w", marketID, err)
	}

	type row struct {
		id      string
		agentID string
		side    domain.Side
		stake   decimal.Decimal
		shares  decimal.Decimal
	}
	var open []row
	for rows.Next() {
		var r row
		var side string
		if err := rows.Scan(&r.id, &r.agentID, &side, &r.stake, &r.shares); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: settle %s: scan: %w", marketID, err)
		}
		r.side = domain.Side(side)
		open = append(open, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: settle %s: rows: %w", marketID, err)
	}

	// No open rows plus settled history means the market was already
	// settled; a market that never had predictions settles to an empty
	// result instead.
	if len(open) == 0 && !voided {
		var settled bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM predictions WHERE market_id = $1 AND status <> 'open')`,
			marketID,
		).Scan(&settled); err != nil {
			return nil, fmt.Errorf("postgres: settle %s: check history: %w", marketID, err)
		}
		if settled {
			return nil, fmt.Errorf("postgres: settle %s: %w", marketID, domain.ErrAlreadySettled)
		}
	}

	now := time.Now().UTC()
	result := &domain.SettlementResult{
		MarketID:  marketID,
		Winner:    winner,
		Voided:    voided,
		TotalPaid: decimal.Zero,
		SettledAt: now,
	}

	batch := &pgx.Batch{}
	for _, r := range open {
		var payout decimal.Decimal
		var status domain.PredictionStatus

		switch {
		case voided:
			payout = r.stake
			status = domain.PredictionVoided
			result.Refunded++
		case r.side == winner:
			payout = r.shares.Round(4)
			status = domain.PredictionWon
			result.Won++
		default:
			payout = decimal.Zero
			status = domain.PredictionLost
			result.Lost++
		}

		realized := payout.Sub(r.stake)
		if voided {
			realized = decimal.Zero
		}

		batch.Queue(`
			UPDATE predictions
			SET status = $2, realized_pnl = $3, expected_payout = $4,
			    unrealized_pnl = 0, settled_at = $5
			WHERE id = $1`,
			r.id, string(status), realized, payout, now)

		switch status {
		case domain.PredictionWon:
			batch.Queue(`
				UPDATE agents SET balance = balance + $2, realized_pnl = realized_pnl + $3,
				    wins = wins + 1, updated_at = NOW()
				WHERE id = $1`,
				r.agentID, payout, realized)
		case domain.PredictionLost:
			batch.Queue(`
				UPDATE agents SET realized_pnl = realized_pnl + $2, losses = losses + 1, updated_at = NOW()
				WHERE id = $1`,
				r.agentID, realized)
		case domain.PredictionVoided:
			batch.Queue(`
				UPDATE agents SET balance = balance + $2, updated_at = NOW()
				WHERE id = $1`,
				r.agentID, payout)
		}

		result.TotalPaid = result.TotalPaid.Add(payout)
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return nil, fmt.Errorf("postgres: settle %s: batch item %d: %w", marketID, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return nil, fmt.Errorf("postgres: settle %s: batch close: %w", marketID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: settle commit: %w", err)
	}
	return result, nil
}

// ListSettledBefore returns settled predictions older than the cutoff,
// oldest first.
func (s *PredictionStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions
		WHERE status <> 'open' AND settled_at < $1 ORDER BY settled_at`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryPredictions(ctx, query, args...)
}

// DeleteSettledBefore removes settled predictions older than the cutoff.
func (s *PredictionStore) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM predictions WHERE status <> 'open' AND settled_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settled before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
