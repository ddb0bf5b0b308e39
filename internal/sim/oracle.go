package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

// oracleMaxStake caps the oracle's wager as a fraction of balance; the
// model's confidence scales the actual stake below this.
var oracleMaxStake = decimal.RequireFromString("0.04")

// oracleMarketLimit bounds how many markets are described in the prompt.
const oracleMarketLimit = 10

const oracleSystemPrompt = `You are a prediction market analyst. Given a list of binary markets
with their current implied probabilities, pick the single market where the
price looks most wrong and which side to back. Respond with JSON only:
{"market_id": "...", "side": "yes"|"no", "confidence": 0.0-1.0, "reason": "..."}
Respond with {"market_id": ""} if nothing looks mispriced.`

// Oracle asks an LLM for a pick. Without an API key it is a no-op, so sim
// wiring never depends on external credentials.
type Oracle struct {
	client *openai.Client
	model  string
}

var _ Strategy = (*Oracle)(nil)

// NewOracle creates an Oracle strategy. An empty apiKey disables it; an
// empty model defaults to gpt-4o-mini.
func NewOracle(apiKey, model string) *Oracle {
	o := &Oracle{model: model}
	if o.model == "" {
		o.model = "gpt-4o-mini"
	}
	if apiKey != "" {
		o.client = openai.NewClient(apiKey)
	}
	return o
}

func (o *Oracle) Name() string { return "oracle" }

func (o *Oracle) Description() string {
	return "Asks an LLM for the most mispriced market."
}

// oraclePick is the JSON shape the model is asked to return.
type oraclePick struct {
	MarketID   string  `json:"market_id"`
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (o *Oracle) Pick(ctx context.Context, agent *domain.Agent, markets []*domain.Market, open []*domain.Prediction) (*Decision, error) {
	if o.client == nil {
		return nil, nil
	}

	candidates := make([]*domain.Market, 0, oracleMarketLimit)
	for _, m := range markets {
		if hasOpen(open, m.ID) {
			continue
		}
		candidates = append(candidates, m)
		if len(candidates) == oracleMarketLimit {
			break
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for _, m := range candidates {
		fmt.Fprintf(&sb, "- id=%s yes=%s no=%s question=%q\n",
			m.ID, m.YesPrice, m.NoPrice, m.Question)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: oracleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("sim: oracle completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var pick oraclePick
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")
	if err := json.Unmarshal([]byte(content), &pick); err != nil {
		return nil, fmt.Errorf("sim: oracle parse %q: %w", content, err)
	}
	if pick.MarketID == "" {
		return nil, nil
	}

	side := domain.Side(strings.ToLower(pick.Side))
	if !side.Valid() {
		return nil, nil
	}

	// Only bet on markets we actually offered.
	found := false
	for _, m := range candidates {
		if m.ID == pick.MarketID {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	confidence := decimal.NewFromFloat(pick.Confidence)
	if confidence.IsNegative() {
		return nil, nil
	}
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}

	stake := stakeFraction(agent, oracleMaxStake.Mul(confidence))
	if !stake.IsPositive() {
		return nil, nil
	}

	return &Decision{
		MarketID: pick.MarketID,
		Side:     side,
		Stake:    stake,
		Reason:   pick.Reason,
	}, nil
}
