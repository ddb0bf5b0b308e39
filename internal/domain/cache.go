package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest yes/no quote per market. The tracker reads
// from here first and falls back to the Gamma API on a miss.
type PriceCache interface {
	// SetQuote stores the latest quote for a market.
	SetQuote(ctx context.Context, quote PriceQuote) error

	// GetQuote returns the cached quote. Returns ErrCacheMiss when absent.
	GetQuote(ctx context.Context, marketID string) (PriceQuote, error)

	// GetQuotes returns cached quotes for many markets in one round trip.
	// Missing markets are simply absent from the result map.
	GetQuotes(ctx context.Context, marketIDs []string) (map[string]PriceQuote, error)
}

// MarketCache holds recently read market rows to spare the database on the
// hot read path.
type MarketCache interface {
	Set(ctx context.Context, market *Market, ttl time.Duration) error
	Get(ctx context.Context, marketID string) (*Market, error)
	Invalidate(ctx context.Context, marketID string) error
}

// LeaderboardCache maintains the ROI ranking as a sorted set.
type LeaderboardCache interface {
	// Update sets one agent's score and entry payload.
	Update(ctx context.Context, entry LeaderboardEntry) error

	// Top returns the highest-scored entries, rank filled in.
	Top(ctx context.Context, n int) ([]LeaderboardEntry, error)

	// Rebuild atomically replaces the whole ranking.
	Rebuild(ctx context.Context, entries []LeaderboardEntry) error
}

// RateLimiter applies a sliding-window limit per key.
type RateLimiter interface {
	// Allow reports whether the caller identified by key may proceed.
	Allow(ctx context.Context, key string) (bool, error)
}

// Lock is a held distributed lock.
type Lock interface {
	// Release frees the lock if this holder still owns it.
	Release(ctx context.Context) error
}

// LockManager hands out distributed mutual exclusion, used to make
// settlement per market single-writer across processes.
type LockManager interface {
	// Acquire takes the named lock for at most ttl. Returns ErrLockHeld
	// when another holder owns it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// StreamMessage is one entry read back from a durable event stream.
type StreamMessage struct {
	ID     string
	Values map[string]any
}

// SignalBus is the pub/sub fabric between services and the WebSocket hub,
// with an optional durable stream per channel for replay.
type SignalBus interface {
	// Publish fires data at every current subscriber of channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe returns a channel of raw payloads published to channel.
	// Patterns ending in '*' subscribe by prefix.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Append adds the payload to the channel's capped durable stream.
	Append(ctx context.Context, channel string, data []byte) error

	// ReadStream reads stream entries after the given id ("0" for start).
	ReadStream(ctx context.Context, channel, afterID string, count int64) ([]StreamMessage, error)
}
