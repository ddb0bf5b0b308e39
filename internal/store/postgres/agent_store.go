package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// AgentStore implements domain.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *pgxpool.Pool
}

var _ domain.AgentStore = (*AgentStore)(nil)

// NewAgentStore creates an AgentStore backed by the given connection pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

const agentCols = `id, name, avatar, persona, strategy,
	starting_balance, balance, total_wagered, realized_pnl,
	wins, losses, status, created_at, updated_at`

// scanAgent scans a single agent row.
func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	var status string
	err := row.Scan(
		&a.ID, &a.Name, &a.Avatar, &a.Persona, &a.Strategy,
		&a.StartingBalance, &a.Balance, &a.TotalWagered, &a.RealizedPnL,
		&a.Wins, &a.Losses, &status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AgentStatus(status)
	return &a, nil
}

// Create inserts a new agent.
func (s *AgentStore) Create(ctx context.Context, agent *domain.Agent) error {
	const query = `
		INSERT INTO agents (
			id, name, avatar, persona, strategy,
			starting_balance, balance, total_wagered, realized_pnl,
			wins, losses, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		agent.ID, agent.Name, agent.Avatar, agent.Persona, agent.Strategy,
		agent.StartingBalance, agent.Balance, agent.TotalWagered, agent.RealizedPnL,
		agent.Wins, agent.Losses, string(agent.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create agent %s: %w", agent.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create agent %s: %w", agent.Name, err)
	}
	return nil
}

// Get retrieves an agent by id.
func (s *AgentStore) Get(ctx context.Context, id string) (*domain.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get agent %s: %w", id, err)
	}
	return a, nil
}

// List returns agents ordered by creation time, newest first.
func (s *AgentStore) List(ctx context.Context, opts domain.ListOpts) ([]*domain.Agent, error) {
	query := `SELECT ` + agentCols + ` FROM agents`
	args := []any{}
	argIdx := 1

	if !opts.Since.IsZero() {
		query += fmt.Sprintf(" WHERE created_at >= $%d", argIdx)
		args = append(args, opts.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryAgents(ctx, query, args...)
}

// ListActive returns all active agents.
func (s *AgentStore) ListActive(ctx context.Context) ([]*domain.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+agentCols+` FROM agents WHERE status = 'active' ORDER BY created_at`)
}

func (s *AgentStore) queryAgents(ctx context.Context, query string, args ...any) ([]*domain.Agent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list agents rows: %w", err)
	}
	return agents, nil
}

// Retire marks an agent retired.
func (s *AgentStore) Retire(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = 'retired', updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("postgres: retire agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Reconcile checks the agent's recorded balance against the ledger inside
// one transaction: starting balance plus the cumulative realized P&L
// counter that settlement maintains, minus stakes still locked in open
// predictions. The counter, not the prediction rows, carries the settled
// history; archival prunes old settled rows and must not create drift.
func (s *AgentStore) Reconcile(ctx context.Context, id string, repair bool) (*domain.ReconcileReport, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: reconcile begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var agent domain.Agent
	err = tx.QueryRow(ctx,
		`SELECT starting_balance, balance, realized_pnl FROM agents WHERE id = $1 FOR UPDATE`, id,
	).Scan(&agent.StartingBalance, &agent.Balance, &agent.RealizedPnL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: reconcile agent %s: %w", id, err)
	}
	recorded := agent.Balance

	var openStakes decimal.Decimal
	var settledCount int
	err = tx.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(stake) FILTER (WHERE status = 'open'), 0),
			COUNT(*) FILTER (WHERE status <> 'open')
		FROM predictions WHERE agent_id = $1`, id,
	).Scan(&openStakes, &settledCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: reconcile history %s: %w", id, err)
	}

	expected := agent.ExpectedBalance(openStakes)
	report := &domain.ReconcileReport{
		AgentID:      id,
		Expected:     expected,
		Recorded:     recorded,
		Drift:        recorded.Sub(expected),
		SettledCount: settledCount,
		OpenStakes:   openStakes,
		CheckedAt:    time.Now().UTC(),
	}

	if repair && !report.Drift.IsZero() {
		if _, err := tx.Exec(ctx,
			`UPDATE agents SET balance = $2, updated_at = NOW() WHERE id = $1`,
			id, expected,
		); err != nil {
			return nil, fmt.Errorf("postgres: reconcile repair %s: %w", id, err)
		}
		report.Repaired = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: reconcile commit: %w", err)
	}
	return report, nil
}
