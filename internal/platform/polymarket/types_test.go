package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
)

func TestToDomainMarketActive(t *testing.T) {
	raw := `{
		"id": "0x1234",
		"question": "Will it rain tomorrow?",
		"slug": "will-it-rain",
		"active": "true",
		"closed": false,
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"0.62\",\"0.38\"]",
		"clobTokenIds": "[\"111\",\"222\"]",
		"volume": "15000.50",
		"endDateIso": "2026-09-01T00:00:00Z"
	}`

	var api APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &api))

	m := api.ToDomainMarket()
	assert.Equal(t, "0x1234", m.ID)
	assert.Equal(t, "Will it rain tomorrow?", m.Question)
	assert.Equal(t, domain.MarketActive, m.Status)
	assert.Equal(t, [2]string{"Yes", "No"}, m.Outcomes)
	assert.Equal(t, [2]string{"111", "222"}, m.TokenIDs)
	assert.True(t, m.YesPrice.Equal(decimal.RequireFromString("0.62")))
	assert.True(t, m.NoPrice.Equal(decimal.RequireFromString("0.38")))
	assert.True(t, m.Volume.Equal(decimal.RequireFromString("15000.50")))
	assert.Equal(t, 2026, m.EndDate.Year())
}

func TestToDomainMarketResolvedByPrices(t *testing.T) {
	raw := `{
		"id": "0x9",
		"question": "Resolved market",
		"active": false,
		"closed": true,
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"0\",\"1\"]"
	}`

	var api APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &api))

	m := api.ToDomainMarket()
	assert.Equal(t, domain.MarketResolved, m.Status)
	assert.Equal(t, domain.SideNo, m.Winner)
}

func TestToDomainMarketResolvedByTokenFlag(t *testing.T) {
	api := APIMarket{
		ID:     "0xa",
		Closed: true,
		Tokens: []Token{
			{TokenID: "111", Outcome: "Yes", Winner: true},
			{TokenID: "222", Outcome: "No"},
		},
	}

	m := api.ToDomainMarket()
	assert.Equal(t, domain.MarketResolved, m.Status)
	assert.Equal(t, domain.SideYes, m.Winner)
	assert.Equal(t, "Unknown", m.Question)
}

func TestToDomainMarketClosedNotResolved(t *testing.T) {
	api := APIMarket{
		ID:            "0xb",
		Closed:        true,
		OutcomePrices: `["0.55","0.45"]`,
	}

	m := api.ToDomainMarket()
	assert.Equal(t, domain.MarketClosed, m.Status)
	assert.Empty(t, string(m.Winner))
}

func TestPricesDefaultToHalf(t *testing.T) {
	api := APIMarket{OutcomePrices: "not json"}
	yes, no := api.Prices()
	assert.True(t, yes.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, no.Equal(decimal.RequireFromString("0.5")))
}

func TestFlexBool(t *testing.T) {
	var v struct {
		A flexBool `json:"a"`
		B flexBool `json:"b"`
		C flexBool `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":true,"b":"true","c":"false"}`), &v))
	assert.True(t, bool(v.A))
	assert.True(t, bool(v.B))
	assert.False(t, bool(v.C))
}
