package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentStatus is the lifecycle state of a simulated agent.
type AgentStatus string

const (
	// AgentActive means the agent bets and appears on the leaderboard.
	AgentActive AgentStatus = "active"

	// AgentRetired means the agent is deactivated. Its history is kept but
	// it places no new predictions.
	AgentRetired AgentStatus = "retired"
)

// Agent is a simulated bettor competing in the arena. All money fields are
// fixed-precision decimals; floats never touch a balance.
type Agent struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Avatar          string          `json:"avatar"`
	Persona         string          `json:"persona"`
	Strategy        string          `json:"strategy"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	Balance         decimal.Decimal `json:"balance"`
	TotalWagered    decimal.Decimal `json:"total_wagered"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	Status          AgentStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ROI returns (balance - starting_balance) / starting_balance. A zero
// starting balance yields zero rather than dividing.
func (a *Agent) ROI() decimal.Decimal {
	if a.StartingBalance.IsZero() {
		return decimal.Zero
	}
	return a.Balance.Sub(a.StartingBalance).Div(a.StartingBalance)
}

// WinRate returns wins / (wins + losses), or zero before any settlement.
func (a *Agent) WinRate() decimal.Decimal {
	settled := a.Wins + a.Losses
	if settled == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(a.Wins)).Div(decimal.NewFromInt(int64(settled)))
}

// Settled reports whether the agent has at least one settled prediction.
func (a *Agent) Settled() bool {
	return a.Wins+a.Losses > 0
}

// ExpectedBalance derives the balance the ledger implies: the starting
// balance plus cumulative realized P&L, minus stakes still locked in open
// predictions. Settled prediction rows may have been archived away, so the
// derivation must not depend on surviving history.
func (a *Agent) ExpectedBalance(openStakes decimal.Decimal) decimal.Decimal {
	return a.StartingBalance.Add(a.RealizedPnL).Sub(openStakes)
}

// ReconcileReport is the outcome of replaying an agent's settled history
// against its recorded balance.
type ReconcileReport struct {
	AgentID      string          `json:"agent_id"`
	Expected     decimal.Decimal `json:"expected_balance"`
	Recorded     decimal.Decimal `json:"recorded_balance"`
	Drift        decimal.Decimal `json:"drift"`
	SettledCount int             `json:"settled_count"`
	OpenStakes   decimal.Decimal `json:"open_stakes"`
	Repaired     bool            `json:"repaired"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// InBalance reports whether the recorded balance matches the replayed one.
func (r *ReconcileReport) InBalance() bool {
	return r.Drift.IsZero()
}
