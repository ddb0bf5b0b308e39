package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arenalabs/agentarena/internal/domain"
)

// MarketCache implements domain.MarketCache using JSON values with a TTL.
type MarketCache struct {
	rdb *redis.Client
}

var _ domain.MarketCache = (*MarketCache)(nil)

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(marketID string) string {
	return "market:" + marketID
}

// Set stores a market row for ttl.
func (mc *MarketCache) Set(ctx context.Context, market *domain.Market, ttl time.Duration) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(market.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get returns a cached market. Returns domain.ErrCacheMiss when absent.
func (mc *MarketCache) Get(ctx context.Context, marketID string) (*domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: get market %s: %w", marketID, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("redis: unmarshal market %s: %w", marketID, err)
	}
	return &m, nil
}

// Invalidate drops a cached market.
func (mc *MarketCache) Invalidate(ctx context.Context, marketID string) error {
	if err := mc.rdb.Del(ctx, marketKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", marketID, err)
	}
	return nil
}
