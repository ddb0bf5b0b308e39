package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAgentROI(t *testing.T) {
	a := &Agent{
		StartingBalance: dec("1000"),
		Balance:         dec("1250"),
	}
	assert.True(t, a.ROI().Equal(dec("0.25")), "roi %s", a.ROI())

	a.Balance = dec("800")
	assert.True(t, a.ROI().Equal(dec("-0.2")), "roi %s", a.ROI())

	a.StartingBalance = decimal.Zero
	assert.True(t, a.ROI().IsZero())
}

func TestAgentWinRate(t *testing.T) {
	a := &Agent{}
	assert.True(t, a.WinRate().IsZero())
	assert.False(t, a.Settled())

	a.Wins = 3
	a.Losses = 1
	assert.True(t, a.WinRate().Equal(dec("0.75")), "win rate %s", a.WinRate())
	assert.True(t, a.Settled())
}

func TestExpectedBalanceSurvivesArchivedHistory(t *testing.T) {
	// The cumulative counter carries the settled history, so the expected
	// balance is the same whether or not the settled rows still exist.
	a := &Agent{
		StartingBalance: dec("1000"),
		RealizedPnL:     dec("150"),
	}
	assert.True(t, a.ExpectedBalance(dec("200")).Equal(dec("950")),
		"expected %s", a.ExpectedBalance(dec("200")))

	a.RealizedPnL = dec("-300")
	assert.True(t, a.ExpectedBalance(decimal.Zero).Equal(dec("700")))

	fresh := &Agent{StartingBalance: dec("500")}
	assert.True(t, fresh.ExpectedBalance(decimal.Zero).Equal(dec("500")))
}

func TestReconcileReportInBalance(t *testing.T) {
	r := &ReconcileReport{Drift: decimal.Zero}
	assert.True(t, r.InBalance())

	r.Drift = dec("0.01")
	assert.False(t, r.InBalance())
}
