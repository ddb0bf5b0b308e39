package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arenalabs/agentarena/internal/domain"
)

// LeaderboardService ranks agents by ROI with a win-rate tiebreak. The
// ranking lives in Redis; the database is the source of truth on rebuild.
type LeaderboardService struct {
	agents domain.AgentStore
	cache  domain.LeaderboardCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewLeaderboardService creates a LeaderboardService.
func NewLeaderboardService(
	agents domain.AgentStore,
	cache domain.LeaderboardCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		agents: agents,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "leaderboard")),
	}
}

// entryFor builds a ranking entry from the agent's ledger fields.
func entryFor(agent *domain.Agent, now time.Time) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		AgentID:   agent.ID,
		Name:      agent.Name,
		Strategy:  agent.Strategy,
		Balance:   agent.Balance,
		ROI:       agent.ROI(),
		WinRate:   agent.WinRate(),
		Wins:      agent.Wins,
		Losses:    agent.Losses,
		UpdatedAt: now,
	}
}

// Top returns the highest-ranked agents. An empty cache triggers a rebuild
// from the database.
func (s *LeaderboardService) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	entries, err := s.cache.Top(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("service: leaderboard top: %w", err)
	}
	if len(entries) > 0 {
		return entries, nil
	}

	if err := s.Rebuild(ctx); err != nil {
		return nil, err
	}
	entries, err = s.cache.Top(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("service: leaderboard top after rebuild: %w", err)
	}
	return entries, nil
}

// Rebuild replaces the whole ranking from the agent store and publishes the
// refreshed top ten.
func (s *LeaderboardService) Rebuild(ctx context.Context) error {
	agents, err := s.agents.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("service: leaderboard rebuild: %w", err)
	}

	now := time.Now().UTC()
	entries := make([]domain.LeaderboardEntry, 0, len(agents))
	for _, agent := range agents {
		entries = append(entries, entryFor(agent, now))
	}

	if err := s.cache.Rebuild(ctx, entries); err != nil {
		return fmt.Errorf("service: leaderboard rebuild cache: %w", err)
	}

	s.logger.InfoContext(ctx, "leaderboard rebuilt", slog.Int("agents", len(entries)))
	s.publishTop(ctx)
	return nil
}

// RefreshAgent updates one agent's standing after a balance change.
func (s *LeaderboardService) RefreshAgent(ctx context.Context, agentID string) error {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("service: leaderboard refresh %s: %w", agentID, err)
	}

	if err := s.cache.Update(ctx, entryFor(agent, time.Now().UTC())); err != nil {
		return fmt.Errorf("service: leaderboard update %s: %w", agentID, err)
	}
	return nil
}

// PublishTop pushes the current top ten onto the leaderboard channel.
func (s *LeaderboardService) PublishTop(ctx context.Context) {
	s.publishTop(ctx)
}

func (s *LeaderboardService) publishTop(ctx context.Context) {
	if s.bus == nil {
		return
	}

	entries, err := s.cache.Top(ctx, 10)
	if err != nil {
		s.logger.WarnContext(ctx, "leaderboard top for publish failed", slog.String("error", err.Error()))
		return
	}

	payload, err := json.Marshal(domain.Event{
		Type:      "leaderboard",
		Timestamp: time.Now().UTC(),
		Payload:   entries,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelLeaderboard, payload); err != nil {
		s.logger.WarnContext(ctx, "publish leaderboard failed", slog.String("error", err.Error()))
	}
}
