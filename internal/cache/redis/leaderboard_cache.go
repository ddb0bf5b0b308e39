package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arenalabs/agentarena/internal/domain"
)

const (
	// leaderboardKey is the sorted set of agent ids scored by ROI.
	leaderboardKey = "leaderboard"

	// leaderboardEntriesKey is the hash of agent id to serialized entry.
	leaderboardEntriesKey = "leaderboard:entries"
)

// LeaderboardCache implements domain.LeaderboardCache with a Redis sorted
// set for ranking and a sibling hash for the full entry payloads. Scores
// are ROI shifted by win rate in the fourth decimal, so equal-ROI agents
// tie-break on win rate without a second sort.
type LeaderboardCache struct {
	rdb *redis.Client
}

var _ domain.LeaderboardCache = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a LeaderboardCache backed by the given Client.
func NewLeaderboardCache(c *Client) *LeaderboardCache {
	return &LeaderboardCache{rdb: c.Underlying()}
}

// score collapses ROI and win rate into one sortable float. Win rate is in
// [0, 1] and contributes at most 1e-4, well under any meaningful ROI step.
func score(entry domain.LeaderboardEntry) float64 {
	roi, _ := entry.ROI.Float64()
	winRate, _ := entry.WinRate.Float64()
	return roi + winRate*1e-4
}

// Update sets one agent's score and entry payload.
func (lc *LeaderboardCache) Update(ctx context.Context, entry domain.LeaderboardEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal leaderboard entry %s: %w", entry.AgentID, err)
	}

	pipe := lc.rdb.Pipeline()
	pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: score(entry), Member: entry.AgentID})
	pipe.HSet(ctx, leaderboardEntriesKey, entry.AgentID, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: update leaderboard %s: %w", entry.AgentID, err)
	}
	return nil
}

// Top returns the highest-scored entries with ranks filled in.
func (lc *LeaderboardCache) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}

	ids, err := lc.rdb.ZRevRange(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: leaderboard top: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raws, err := lc.rdb.HMGet(ctx, leaderboardEntriesKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: leaderboard entries: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(ids))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var entry domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			return nil, fmt.Errorf("redis: unmarshal leaderboard entry %s: %w", ids[i], err)
		}
		entry.Rank = len(entries) + 1
		entries = append(entries, entry)
	}
	return entries, nil
}

// Rebuild atomically replaces the whole ranking.
func (lc *LeaderboardCache) Rebuild(ctx context.Context, entries []domain.LeaderboardEntry) error {
	pipe := lc.rdb.TxPipeline()
	pipe.Del(ctx, leaderboardKey, leaderboardEntriesKey)

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("redis: marshal leaderboard entry %s: %w", entry.AgentID, err)
		}
		pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: score(entry), Member: entry.AgentID})
		pipe.HSet(ctx, leaderboardEntriesKey, entry.AgentID, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: rebuild leaderboard: %w", err)
	}
	return nil
}
