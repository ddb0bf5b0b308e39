package domain

import "errors"

// Sentinel errors shared across stores, caches, and services. Callers match
// with errors.Is after unwrapping package-level context.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInsufficientFunds indicates a stake exceeds the agent's balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidStake indicates a non-positive or malformed stake amount.
	ErrInvalidStake = errors.New("invalid stake")

	// ErrInvalidPrice indicates a price outside the open interval (0, 1).
	ErrInvalidPrice = errors.New("invalid price")

	// ErrMarketClosed indicates a placement against a market that no longer
	// accepts predictions.
	ErrMarketClosed = errors.New("market closed")

	// ErrMarketNotResolved indicates settlement was requested before the
	// market recorded a winning outcome.
	ErrMarketNotResolved = errors.New("market not resolved")

	// ErrAlreadySettled indicates a settlement attempt against predictions
	// that have already left the open state.
	ErrAlreadySettled = errors.New("already settled")

	// ErrAgentRetired indicates an operation against a deactivated agent.
	ErrAgentRetired = errors.New("agent retired")

	// ErrPriceStale indicates the cached price is older than the tracker's
	// staleness window and must not be used for marking.
	ErrPriceStale = errors.New("price stale")

	// ErrRateLimited indicates the caller exceeded a rate limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrLockHeld indicates a distributed lock is held by another owner.
	ErrLockHeld = errors.New("lock held")

	// ErrCacheMiss indicates the key was not present in the cache.
	ErrCacheMiss = errors.New("cache miss")
)
