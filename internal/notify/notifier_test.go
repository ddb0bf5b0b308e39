package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
)

type fakeSender struct {
	name   string
	titles []string
	err    error
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []string{domain.ChannelSettlements}, discard())

	require.NoError(t, n.Notify(context.Background(), domain.ChannelMarkets, "skip", "x"))
	require.NoError(t, n.Notify(context.Background(), domain.ChannelSettlements, "keep", "x"))
	assert.Equal(t, []string{"keep"}, sender.titles)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifierContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("boom")}
	working := &fakeSender{name: "working"}
	n := NewNotifier([]Sender{broken, working}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, working.titles, 1, "later senders still deliver")
}

func busPayload(t *testing.T, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.Event{Type: "test", Payload: payload})
	require.NoError(t, err)
	return raw
}

func TestRenderSettlement(t *testing.T) {
	payload := busPayload(t, domain.SettlementEvent{
		Question: "Will it rain?",
		Result: &domain.SettlementResult{
			Winner:    domain.SideYes,
			Won:       3,
			Lost:      2,
			TotalPaid: decimal.RequireFromString("412.50"),
		},
	})

	title, message, ok := render(domain.ChannelSettlements, payload)
	require.True(t, ok)
	assert.Equal(t, "Market settled", title)
	assert.Contains(t, message, "Will it rain?")
	assert.Contains(t, message, "winner: yes")
	assert.Contains(t, message, "412.5")
}

func TestRenderVoidedSettlement(t *testing.T) {
	payload := busPayload(t, domain.SettlementEvent{
		Question: "Cancelled event",
		Result:   &domain.SettlementResult{Voided: true, Refunded: 5},
	})

	title, message, ok := render(domain.ChannelSettlements, payload)
	require.True(t, ok)
	assert.Equal(t, "Market voided", title)
	assert.Contains(t, message, "5 stakes refunded")
}

func TestRenderAgentStatus(t *testing.T) {
	payload := busPayload(t, domain.AgentStatusEvent{
		AgentID: "a1",
		Name:    "Momentum Max",
		Status:  "retired",
	})

	title, message, ok := render(domain.ChannelAgentStatus, payload)
	require.True(t, ok)
	assert.Equal(t, "Agent status", title)
	assert.Contains(t, message, "Momentum Max is now retired")
}

func TestRenderSkipsMarketSyncs(t *testing.T) {
	payload := busPayload(t, map[string]any{"synced": 120})

	title, _, ok := render(domain.ChannelMarkets, payload)
	require.True(t, ok)
	assert.Empty(t, title)
}

func TestRenderRejectsGarbage(t *testing.T) {
	_, _, ok := render(domain.ChannelSettlements, []byte("not json"))
	assert.False(t, ok)
}
