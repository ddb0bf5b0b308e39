package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal bus channels. The WebSocket hub relays these verbatim to dashboard
// clients, so names are part of the public feed contract.
const (
	ChannelMarks       = "marks"
	ChannelPredictions = "predictions"
	ChannelSettlements = "settlements"
	ChannelLeaderboard = "leaderboard"
	ChannelMarkets     = "markets"
	ChannelAgentStatus = "agent_status"
)

// Event is the envelope published on every bus channel.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// MarkUpdate is one prediction's refreshed mark inside a marks event.
type MarkUpdate struct {
	PredictionID   string          `json:"prediction_id"`
	AgentID        string          `json:"agent_id"`
	MarketID       string          `json:"market_id"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	ExpectedPayout decimal.Decimal `json:"expected_payout"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}

// MarksEvent carries a full tracker cycle's worth of refreshed marks.
type MarksEvent struct {
	Marks   []MarkUpdate `json:"marks"`
	Markets int          `json:"markets"`
	Elapsed string       `json:"elapsed"`
}

// PredictionEvent announces a newly placed prediction.
type PredictionEvent struct {
	Prediction *Prediction     `json:"prediction"`
	AgentName  string          `json:"agent_name"`
	Question   string          `json:"question"`
	Balance    decimal.Decimal `json:"balance_after"`
}

// SettlementEvent announces a completed settlement pass for a market.
type SettlementEvent struct {
	Result   *SettlementResult `json:"result"`
	Question string            `json:"question"`
}

// LeaderboardEntry is one ranked row; also the payload unit of leaderboard
// events and the value stored alongside the Redis ranking.
type LeaderboardEntry struct {
	Rank      int             `json:"rank"`
	AgentID   string          `json:"agent_id"`
	Name      string          `json:"name"`
	Strategy  string          `json:"strategy"`
	Balance   decimal.Decimal `json:"balance"`
	ROI       decimal.Decimal `json:"roi"`
	WinRate   decimal.Decimal `json:"win_rate"`
	Wins      int             `json:"wins"`
	Losses    int             `json:"losses"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AgentStatusEvent announces agent lifecycle changes (created, retired,
// reconciled).
type AgentStatusEvent struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
}

// AuditEntry is one row of the admin audit trail.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Kind      string         `json:"kind"`
	Actor     string         `json:"actor"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit kinds recorded by services.
const (
	AuditPredictionPlaced = "prediction_placed"
	AuditMarketSettled    = "market_settled"
	AuditMarketVoided     = "market_voided"
	AuditReconcile        = "reconcile"
	AuditScrape           = "scrape"
	AuditArchive          = "archive"
	AuditAgentCreated     = "agent_created"
	AuditAgentRetired     = "agent_retired"
)
