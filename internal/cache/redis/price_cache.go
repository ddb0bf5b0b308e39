package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// priceTTL bounds how long a quote survives without refresh. The tracker
// treats anything older than its staleness window as unusable anyway; the
// TTL just keeps dead markets from accumulating.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using one Redis hash per market
// holding the yes price, no price, and update timestamp.
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

// SetQuote stores the latest quote for a market.
func (pc *PriceCache) SetQuote(ctx context.Context, quote domain.PriceQuote) error {
	key := priceKey(quote.MarketID)

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"yes": quote.Yes.String(),
		"no":  quote.No.String(),
		"ts":  quote.UpdatedAt.UnixMilli(),
	})
	pipe.Expire(ctx, key, priceTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", quote.MarketID, err)
	}
	return nil
}

// GetQuote returns the cached quote for one market.
func (pc *PriceCache) GetQuote(ctx context.Context, marketID string) (domain.PriceQuote, error) {
	fields, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}
	if len(fields) == 0 {
		return domain.PriceQuote{}, domain.ErrCacheMiss
	}
	return parseQuote(marketID, fields)
}

// GetQuotes returns cached quotes for many markets in one pipeline.
func (pc *PriceCache) GetQuotes(ctx context.Context, marketIDs []string) (map[string]domain.PriceQuote, error) {
	if len(marketIDs) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: get quotes: %w", err)
	}

	quotes := make(map[string]domain.PriceQuote, len(marketIDs))
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		q, err := parseQuote(id, fields)
		if err != nil {
			continue
		}
		quotes[id] = q
	}
	return quotes, nil
}

func parseQuote(marketID string, fields map[string]string) (domain.PriceQuote, error) {
	yes, err := decimal.NewFromString(fields["yes"])
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: quote %s: parse yes: %w", marketID, err)
	}
	no, err := decimal.NewFromString(fields["no"])
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: quote %s: parse no: %w", marketID, err)
	}
	ms, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: quote %s: parse ts: %w", marketID, err)
	}

	return domain.PriceQuote{
		MarketID:  marketID,
		Yes:       yes,
		No:        no,
		UpdatedAt: time.UnixMilli(ms).UTC(),
	}, nil
}
