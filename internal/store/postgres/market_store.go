package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenalabs/agentarena/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, slug, outcome_yes, outcome_no,
	token_yes, token_no, yes_price, no_price, volume,
	status, winner, end_date, synced_at, created_at`

const marketUpsert = `
	INSERT INTO markets (
		id, question, slug, outcome_yes, outcome_no,
		token_yes, token_no, yes_price, no_price, volume,
		status, winner, end_date, synced_at, created_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13, NOW(), NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		question    = EXCLUDED.question,
		slug        = EXCLUDED.slug,
		outcome_yes = EXCLUDED.outcome_yes,
		outcome_no  = EXCLUDED.outcome_no,
		token_yes   = EXCLUDED.token_yes,
		token_no    = EXCLUDED.token_no,
		yes_price   = EXCLUDED.yes_price,
		no_price    = EXCLUDED.no_price,
		volume      = EXCLUDED.volume,
		status      = EXCLUDED.status,
		winner      = EXCLUDED.winner,
		end_date    = EXCLUDED.end_date,
		synced_at   = NOW()`

func upsertArgs(m *domain.Market) []any {
	var endDate *time.Time
	if !m.EndDate.IsZero() {
		endDate = &m.EndDate
	}
	return []any{
		m.ID, m.Question, m.Slug,
		m.Outcomes[0], m.Outcomes[1],
		m.TokenIDs[0], m.TokenIDs[1],
		m.YesPrice, m.NoPrice, m.Volume,
		string(m.Status), string(m.Winner), endDate,
	}
}

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m *domain.Market) error {
	if _, err := s.pool.Exec(ctx, marketUpsert, upsertArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in a single batch.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []*domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(marketUpsert, upsertArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

// scanMarket scans a single market row.
func scanMarket(row pgx.Row) (*domain.Market, error) {
	var m domain.Market
	var status, winner string
	var endDate *time.Time
	err := row.Scan(
		&m.ID, &m.Question, &m.Slug,
		&m.Outcomes[0], &m.Outcomes[1],
		&m.TokenIDs[0], &m.TokenIDs[1],
		&m.YesPrice, &m.NoPrice, &m.Volume,
		&status, &winner, &endDate,
		&m.SyncedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = domain.MarketStatus(status)
	m.Winner = domain.Side(winner)
	if endDate != nil {
		m.EndDate = *endDate
	}
	return &m, nil
}

// Get retrieves a market by id.
func (s *MarketStore) Get(ctx context.Context, id string) (*domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListActive returns active markets ordered by volume, highest first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]*domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'active'`
	args := []any{}
	argIdx := 1

	if !opts.Since.IsZero() {
		query += fmt.Sprintf(" AND synced_at >= $%d", argIdx)
		args = append(args, opts.Since)
		argIdx++
	}

	query += " ORDER BY volume DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, query, args...)
}

// ListWithOpenPredictions returns every market carrying at least one open
// prediction. This is the tracker's working set each cycle.
func (s *MarketStore) ListWithOpenPredictions(ctx context.Context) ([]*domain.Market, error) {
	query := `
		SELECT ` + marketCols + ` FROM markets
		WHERE id IN (SELECT DISTINCT market_id FROM predictions WHERE status = 'open')
		ORDER BY id`
	return s.queryMarkets(ctx, query)
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args ...any) ([]*domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []*domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// UpdatePrices stores refreshed yes/no prices for a market.
func (s *MarketStore) UpdatePrices(ctx context.Context, quote domain.PriceQuote) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET yes_price = $2, no_price = $3, synced_at = NOW() WHERE id = $1`,
		quote.MarketID, quote.Yes, quote.No,
	)
	if err != nil {
		return fmt.Errorf("postgres: update prices %s: %w", quote.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve marks a market resolved with the winning side.
func (s *MarketStore) Resolve(ctx context.Context, id string, winner domain.Side) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = 'resolved', winner = $2 WHERE id = $1 AND status <> 'voided'`,
		id, string(winner),
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Void marks a market voided.
func (s *MarketStore) Void(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = 'voided', winner = '' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: void market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
