// Package polymarket provides clients for the Polymarket Gamma REST API and
// the CLOB real-time WebSocket feed.
package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") because the
// Gamma API sends "active" either way depending on the endpoint.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket is a market as returned by the Gamma API. Outcomes,
// outcomePrices, and clobTokenIds arrive as JSON-encoded strings, not
// arrays.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // e.g. "[\"0.52\",\"0.48\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	Tokens        []Token  `json:"tokens"`
	Volume        string   `json:"volume"`
	EndDateISO    string   `json:"endDateIso"`
	CreatedAt     string   `json:"createdAt"`
}

// Token is a token entry inside a Gamma market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// decodePair decodes a JSON-encoded two-element string array, tolerating
// shorter arrays.
func decodePair(encoded string) [2]string {
	var out [2]string
	var items []string
	if err := json.Unmarshal([]byte(encoded), &items); err != nil {
		return out
	}
	for i := 0; i < len(items) && i < 2; i++ {
		out[i] = items[i]
	}
	return out
}

// Prices returns the market's yes/no prices. Missing or malformed prices
// come back as 0.5 so a fresh mirror row is usable before the first real
// quote lands.
func (m *APIMarket) Prices() (yes, no decimal.Decimal) {
	pair := decodePair(m.OutcomePrices)
	half := decimal.RequireFromString("0.5")

	yes, err := decimal.NewFromString(pair[0])
	if err != nil {
		yes = half
	}
	no, err = decimal.NewFromString(pair[1])
	if err != nil {
		no = half
	}
	return yes, no
}

// ToDomainMarket converts a Gamma market to the local mirror type.
func (m *APIMarket) ToDomainMarket() *domain.Market {
	dm := &domain.Market{
		ID:       m.ID,
		Question: m.Question,
		Slug:     m.Slug,
		Outcomes: [2]string{"Yes", "No"},
		TokenIDs: decodePair(m.ClobTokenIDs),
	}
	if dm.Question == "" {
		dm.Question = "Unknown"
	}

	outcomes := decodePair(m.Outcomes)
	if outcomes[0] != "" {
		dm.Outcomes = outcomes
	}
	for i, tok := range m.Tokens {
		if i >= 2 {
			break
		}
		if tok.TokenID != "" {
			dm.TokenIDs[i] = tok.TokenID
		}
		if tok.Outcome != "" {
			dm.Outcomes[i] = tok.Outcome
		}
	}

	dm.YesPrice, dm.NoPrice = m.Prices()

	if v, err := decimal.NewFromString(m.Volume); err == nil {
		dm.Volume = v
	}

	switch {
	case m.Closed:
		dm.Status = domain.MarketClosed
		if winner, ok := m.winner(); ok {
			dm.Status = domain.MarketResolved
			dm.Winner = winner
		}
	case bool(m.Active):
		dm.Status = domain.MarketActive
	default:
		dm.Status = domain.MarketClosed
	}

	if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
		dm.EndDate = t
	}
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}

	return dm
}

// resolvedThreshold is the outcome price at which a closed market counts as
// resolved in that side's favor. Resolution pushes the winning price to 1.
var resolvedThreshold = decimal.RequireFromString("0.99")

// winner determines the winning side of a closed market, preferring the
// explicit token winner flag and falling back to the outcome prices.
func (m *APIMarket) winner() (domain.Side, bool) {
	for i, tok := range m.Tokens {
		if !tok.Winner {
			continue
		}
		if i == 0 || strings.EqualFold(tok.Outcome, "Yes") {
			return domain.SideYes, true
		}
		return domain.SideNo, true
	}

	yes, no := m.Prices()
	if yes.GreaterThanOrEqual(resolvedThreshold) {
		return domain.SideYes, true
	}
	if no.GreaterThanOrEqual(resolvedThreshold) {
		return domain.SideNo, true
	}
	return "", false
}

// Resolution is the settlement-relevant state of an upstream market.
type Resolution struct {
	Closed   bool
	Resolved bool
	Winner   domain.Side
}

// WSCommand is the JSON payload sent to the CLOB WebSocket to manage
// subscriptions.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// PriceChangeMessage is an incremental price update from the WebSocket
// market channel.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// LastTradeMessage is the most recent trade price for an asset.
type LastTradeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}
