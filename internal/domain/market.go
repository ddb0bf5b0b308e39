package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus is the lifecycle state of a mirrored market.
type MarketStatus string

const (
	// MarketActive means the market accepts predictions.
	MarketActive MarketStatus = "active"

	// MarketClosed means trading has stopped but no winner is recorded yet.
	MarketClosed MarketStatus = "closed"

	// MarketResolved means a winning outcome is recorded and settlement may run.
	MarketResolved MarketStatus = "resolved"

	// MarketVoided means the market was cancelled or vanished upstream;
	// open stakes are refunded.
	MarketVoided MarketStatus = "voided"
)

// Market is a local mirror of a Polymarket binary market. Prices are implied
// probabilities in [0, 1]; YesPrice + NoPrice is normally ~1 but the two are
// stored independently as the upstream API reports them.
type Market struct {
	ID        string          `json:"id"`
	Question  string          `json:"question"`
	Slug      string          `json:"slug"`
	Outcomes  [2]string       `json:"outcomes"`  // [yes label, no label]
	TokenIDs  [2]string       `json:"token_ids"` // [yes token, no token], for the live feed
	YesPrice  decimal.Decimal `json:"yes_price"`
	NoPrice   decimal.Decimal `json:"no_price"`
	Volume    decimal.Decimal `json:"volume"`
	Status    MarketStatus    `json:"status"`
	Winner    Side            `json:"winner,omitempty"` // set when resolved
	EndDate   time.Time       `json:"end_date"`
	SyncedAt  time.Time       `json:"synced_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// Open reports whether the market still accepts predictions.
func (m *Market) Open() bool {
	return m.Status == MarketActive
}

// PriceFor returns the market's stored price for the given side.
func (m *Market) PriceFor(side Side) decimal.Decimal {
	if side == SideYes {
		return m.YesPrice
	}
	return m.NoPrice
}

// PriceQuote is a cached yes/no price pair for one market.
type PriceQuote struct {
	MarketID  string          `json:"market_id"`
	Yes       decimal.Decimal `json:"yes"`
	No        decimal.Decimal `json:"no"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StaleAfter reports whether the quote is older than the given window.
func (q PriceQuote) StaleAfter(window time.Duration, now time.Time) bool {
	return now.Sub(q.UpdatedAt) > window
}

// For returns the quoted price for the given side.
func (q PriceQuote) For(side Side) decimal.Decimal {
	if side == SideYes {
		return q.Yes
	}
	return q.No
}
