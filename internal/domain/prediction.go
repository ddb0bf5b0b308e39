package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the outcome a prediction backs.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// PredictionStatus is the lifecycle state of a prediction.
type PredictionStatus string

const (
	// PredictionOpen means the stake is committed and the market is live.
	PredictionOpen PredictionStatus = "open"

	// PredictionWon means the backed side won; shares paid out at 1.00.
	PredictionWon PredictionStatus = "won"

	// PredictionLost means the backed side lost; the stake is gone.
	PredictionLost PredictionStatus = "lost"

	// PredictionVoided means the market was voided and the stake refunded.
	PredictionVoided PredictionStatus = "voided"
)

// Settled reports whether the status is terminal.
func (s PredictionStatus) Settled() bool {
	return s == PredictionWon || s == PredictionLost || s == PredictionVoided
}

var (
	// MinPrice and MaxPrice bound every price used for share or payout math.
	// Entry at the extremes would otherwise produce absurd share counts or
	// divide by zero.
	MinPrice = decimal.RequireFromString("0.001")
	MaxPrice = decimal.RequireFromString("0.999")
)

// ClampPrice forces a price into [MinPrice, MaxPrice].
func ClampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}

// sharesPrecision bounds division results; shares are not money but they
// multiply back into payouts, so keep enough digits to round-trip cents.
const sharesPrecision = 8

// SharesFor returns stake / entryPrice, the number of outcome shares the
// stake buys at the given implied probability. The price is clamped first.
func SharesFor(stake, entryPrice decimal.Decimal) decimal.Decimal {
	return stake.DivRound(ClampPrice(entryPrice), sharesPrecision)
}

// Prediction is one agent's stake on one side of one market.
type Prediction struct {
	ID             string           `json:"id"`
	AgentID        string           `json:"agent_id"`
	MarketID       string           `json:"market_id"`
	Side           Side             `json:"side"`
	Stake          decimal.Decimal  `json:"stake"`
	EntryPrice     decimal.Decimal  `json:"entry_price"`
	Shares         decimal.Decimal  `json:"shares"`
	ExpectedPayout decimal.Decimal  `json:"expected_payout"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal  `json:"realized_pnl"`
	Status         PredictionStatus `json:"status"`
	PlacedAt       time.Time        `json:"placed_at"`
	SettledAt      *time.Time       `json:"settled_at,omitempty"`
	MarkedAt       time.Time        `json:"marked_at"`
}

// Mark recomputes the expected payout and unrealized P&L against the given
// current price for the prediction's side. The price is clamped before use.
// Marking a settled prediction is a no-op.
func (p *Prediction) Mark(currentPrice decimal.Decimal, now time.Time) {
	if p.Status != PredictionOpen {
		return
	}
	price := ClampPrice(currentPrice)
	p.ExpectedPayout = p.Shares.Mul(price).Round(4)
	p.UnrealizedPnL = p.ExpectedPayout.Sub(p.Stake)
	p.MarkedAt = now
}

// Payout returns what the prediction pays given the winning side: shares at
// 1.00 on a win, zero on a loss, the stake back on a void.
func (p *Prediction) Payout(winner Side, voided bool) decimal.Decimal {
	if voided {
		return p.Stake
	}
	if p.Side == winner {
		return p.Shares.Round(4)
	}
	return decimal.Zero
}

// SettlementResult summarizes one market's settlement pass.
type SettlementResult struct {
	MarketID  string          `json:"market_id"`
	Winner    Side            `json:"winner,omitempty"`
	Voided    bool            `json:"voided"`
	Won       int             `json:"won"`
	Lost      int             `json:"lost"`
	Refunded  int             `json:"refunded"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	SettledAt time.Time       `json:"settled_at"`
}

// Count returns the number of predictions the pass settled.
func (r *SettlementResult) Count() int {
	return r.Won + r.Lost + r.Refunded
}
