package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestClampPrice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inside range", "0.45", "0.45"},
		{"below floor", "0.0001", "0.001"},
		{"zero", "0", "0.001"},
		{"negative", "-0.2", "0.001"},
		{"above ceiling", "1.2", "0.999"},
		{"exactly one", "1", "0.999"},
		{"floor boundary", "0.001", "0.001"},
		{"ceiling boundary", "0.999", "0.999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampPrice(dec(tt.in))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestSharesFor(t *testing.T) {
	// 100 staked at 0.25 implied probability buys 400 shares.
	shares := SharesFor(dec("100"), dec("0.25"))
	assert.True(t, shares.Equal(dec("400")), "got %s", shares)

	// Entry price is clamped before dividing.
	shares = SharesFor(dec("10"), dec("0"))
	assert.True(t, shares.Equal(dec("10000")), "got %s", shares)
}

func TestPredictionMark(t *testing.T) {
	now := time.Now().UTC()
	p := &Prediction{
		Side:       SideYes,
		Stake:      dec("100"),
		EntryPrice: dec("0.40"),
		Shares:     SharesFor(dec("100"), dec("0.40")),
		Status:     PredictionOpen,
	}
	require.True(t, p.Shares.Equal(dec("250")))

	// Price moves up: expected payout = 250 * 0.60 = 150, pnl = +50.
	p.Mark(dec("0.60"), now)
	assert.True(t, p.ExpectedPayout.Equal(dec("150")), "payout %s", p.ExpectedPayout)
	assert.True(t, p.UnrealizedPnL.Equal(dec("50")), "pnl %s", p.UnrealizedPnL)
	assert.Equal(t, now, p.MarkedAt)

	// Price moves down: expected payout = 250 * 0.20 = 50, pnl = -50.
	p.Mark(dec("0.20"), now)
	assert.True(t, p.ExpectedPayout.Equal(dec("50")))
	assert.True(t, p.UnrealizedPnL.Equal(dec("-50")))

	// Unchanged price: pnl is zero.
	p.Mark(dec("0.40"), now)
	assert.True(t, p.UnrealizedPnL.IsZero(), "pnl %s", p.UnrealizedPnL)
}

func TestPredictionMarkClampsPrice(t *testing.T) {
	now := time.Now().UTC()
	p := &Prediction{
		Side:       SideNo,
		Stake:      dec("50"),
		EntryPrice: dec("0.50"),
		Shares:     SharesFor(dec("50"), dec("0.50")),
		Status:     PredictionOpen,
	}

	p.Mark(dec("1.5"), now)
	assert.True(t, p.ExpectedPayout.Equal(dec("99.9")), "payout %s", p.ExpectedPayout)
}

func TestPredictionMarkSettledIsNoop(t *testing.T) {
	p := &Prediction{
		Stake:          dec("10"),
		Shares:         dec("20"),
		ExpectedPayout: dec("20"),
		RealizedPnL:    dec("10"),
		Status:         PredictionWon,
	}

	p.Mark(dec("0.1"), time.Now())
	assert.True(t, p.ExpectedPayout.Equal(dec("20")))
}

func TestPredictionPayout(t *testing.T) {
	p := &Prediction{
		Side:   SideYes,
		Stake:  dec("100"),
		Shares: dec("250"),
	}

	assert.True(t, p.Payout(SideYes, false).Equal(dec("250")))
	assert.True(t, p.Payout(SideNo, false).IsZero())
	assert.True(t, p.Payout("", true).Equal(dec("100")))
}

func TestSideHelpers(t *testing.T) {
	assert.True(t, SideYes.Valid())
	assert.True(t, SideNo.Valid())
	assert.False(t, Side("maybe").Valid())
	assert.Equal(t, SideNo, SideYes.Opposite())
	assert.Equal(t, SideYes, SideNo.Opposite())
}

func TestSettlementResultCount(t *testing.T) {
	r := &SettlementResult{Won: 2, Lost: 3, Refunded: 1}
	assert.Equal(t, 6, r.Count())
}
