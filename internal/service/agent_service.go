package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// CreateAgentParams are the caller-supplied fields for a new agent.
type CreateAgentParams struct {
	Name            string          `json:"name"`
	Avatar          string          `json:"avatar"`
	Persona         string          `json:"persona"`
	Strategy        string          `json:"strategy"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
}

// AgentService manages the agent ledger.
type AgentService struct {
	agents domain.AgentStore
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewAgentService creates an AgentService. audit and bus may be nil.
func NewAgentService(
	agents domain.AgentStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *AgentService {
	return &AgentService{
		agents: agents,
		audit:  audit,
		bus:    bus,
		logger: logger.With(slog.String("component", "agent_service")),
	}
}

// Create validates and inserts a new agent.
func (s *AgentService) Create(ctx context.Context, params CreateAgentParams) (*domain.Agent, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("service: create agent: name is required")
	}
	if !params.StartingBalance.IsPositive() {
		return nil, fmt.Errorf("service: create agent %s: starting balance must be positive", name)
	}

	strategy := strings.TrimSpace(params.Strategy)
	if strategy == "" {
		strategy = "manual"
	}

	agent := &domain.Agent{
		ID:              uuid.New().String(),
		Name:            name,
		Avatar:          params.Avatar,
		Persona:         params.Persona,
		Strategy:        strategy,
		StartingBalance: params.StartingBalance,
		Balance:         params.StartingBalance,
		TotalWagered:    decimal.Zero,
		Status:          domain.AgentActive,
	}

	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "agent created",
		slog.String("agent_id", agent.ID),
		slog.String("name", agent.Name),
		slog.String("strategy", agent.Strategy),
	)
	s.recordAudit(ctx, domain.AuditAgentCreated, map[string]any{
		"agent_id": agent.ID,
		"name":     agent.Name,
		"strategy": agent.Strategy,
		"balance":  agent.StartingBalance.String(),
	})
	s.publishStatus(ctx, agent, "created", "")

	return agent, nil
}

// Get returns one agent.
func (s *AgentService) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return s.agents.Get(ctx, id)
}

// List returns agents, newest first.
func (s *AgentService) List(ctx context.Context, opts domain.ListOpts) ([]*domain.Agent, error) {
	return s.agents.List(ctx, opts)
}

// Retire deactivates an agent. Its history and leaderboard standing remain.
func (s *AgentService) Retire(ctx context.Context, id string) error {
	if err := s.agents.Retire(ctx, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "agent retired", slog.String("agent_id", id))
	s.recordAudit(ctx, domain.AuditAgentRetired, map[string]any{"agent_id": id})

	if agent, err := s.agents.Get(ctx, id); err == nil {
		s.publishStatus(ctx, agent, "retired", "")
	}
	return nil
}

// Reconcile replays the agent's settled history against its balance and
// reports drift, optionally repairing it.
func (s *AgentService) Reconcile(ctx context.Context, id string, repair bool) (*domain.ReconcileReport, error) {
	report, err := s.agents.Reconcile(ctx, id, repair)
	if err != nil {
		return nil, err
	}

	if report.InBalance() {
		s.logger.InfoContext(ctx, "agent reconciled clean",
			slog.String("agent_id", id),
			slog.Int("settled_count", report.SettledCount),
		)
	} else {
		s.logger.WarnContext(ctx, "agent balance drift detected",
			slog.String("agent_id", id),
			slog.String("drift", report.Drift.String()),
			slog.Bool("repaired", report.Repaired),
		)
	}

	s.recordAudit(ctx, domain.AuditReconcile, map[string]any{
		"agent_id": id,
		"expected": report.Expected.String(),
		"recorded": report.Recorded.String(),
		"drift":    report.Drift.String(),
		"repaired": report.Repaired,
	})

	if agent, err := s.agents.Get(ctx, id); err == nil {
		detail := "in balance"
		if !report.InBalance() {
			detail = "drift " + report.Drift.String()
		}
		s.publishStatus(ctx, agent, "reconciled", detail)
	}
	return report, nil
}

// seedAgents are the house agents created on first boot. Names double as
// stable identifiers, so changing one creates a new agent.
var seedAgents = []CreateAgentParams{
	{Name: "Momentum Max", Persona: "Rides every trend it can find.", Strategy: "momentum", StartingBalance: decimal.NewFromInt(1000)},
	{Name: "Contrarian Carla", Persona: "Fades the crowd on principle.", Strategy: "contrarian", StartingBalance: decimal.NewFromInt(1000)},
	{Name: "Longshot Lou", Persona: "Small stakes, huge upside.", Strategy: "longshot", StartingBalance: decimal.NewFromInt(1000)},
	{Name: "Oracle Opal", Persona: "Consults the machine spirits.", Strategy: "oracle", StartingBalance: decimal.NewFromInt(1000)},
}

// SeedHouseAgents creates the built-in agents, skipping ones that already
// exist. Safe to call on every boot.
func (s *AgentService) SeedHouseAgents(ctx context.Context) error {
	for _, params := range seedAgents {
		if _, err := s.Create(ctx, params); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("service: seed agent %s: %w", params.Name, err)
		}
	}
	return nil
}

func (s *AgentService) recordAudit(ctx context.Context, kind string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, &domain.AuditEntry{Kind: kind, Actor: "agent_service", Detail: detail}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AgentService) publishStatus(ctx context.Context, agent *domain.Agent, status, detail string) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{
		Type:      "agent_status",
		Timestamp: time.Now().UTC(),
		Payload: domain.AgentStatusEvent{
			AgentID: agent.ID,
			Name:    agent.Name,
			Status:  status,
			Detail:  detail,
		},
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelAgentStatus, payload); err != nil {
		s.logger.WarnContext(ctx, "publish agent status failed", slog.String("error", err.Error()))
	}
}
