package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/arenalabs/agentarena/internal/domain"
)

// Relay turns signal bus events into operator notifications. It subscribes
// to the settlement, agent status, and market channels and renders each
// payload through the Notifier's event filter.
type Relay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run consumes bus events until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	channels := []string{
		domain.ChannelSettlements,
		domain.ChannelAgentStatus,
		domain.ChannelMarkets,
	}
	for _, channel := range channels {
		msgs, err := r.bus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", channel, err)
		}

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case payload, ok := <-msgs:
					if !ok {
						return nil
					}
					r.handle(ctx, channel, payload)
				}
			}
		})
	}

	return g.Wait()
}

// handle renders one bus payload and pushes it through the notifier.
// Malformed payloads are logged and dropped; the relay never stops the bus.
func (r *Relay) handle(ctx context.Context, channel string, payload []byte) {
	title, message, ok := render(channel, payload)
	if !ok {
		r.logger.WarnContext(ctx, "undeliverable event",
			slog.String("channel", channel),
		)
		return
	}
	if title == "" {
		return
	}

	if err := r.notifier.Notify(ctx, channel, title, message); err != nil {
		r.logger.WarnContext(ctx, "notify failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// render maps a bus payload to a notification. Empty title means skip;
// ok reports whether the payload decoded at all.
func render(channel string, payload []byte) (title, message string, ok bool) {
	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", "", false
	}

	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return "", "", false
	}

	switch channel {
	case domain.ChannelSettlements:
		var se domain.SettlementEvent
		if err := json.Unmarshal(raw, &se); err != nil || se.Result == nil {
			return "", "", false
		}
		res := se.Result
		if res.Voided {
			return "Market voided",
				fmt.Sprintf("%s\n%d stakes refunded", se.Question, res.Refunded), true
		}
		return "Market settled",
			fmt.Sprintf("%s\nwinner: %s, won: %d, lost: %d, paid: %s",
				se.Question, res.Winner, res.Won, res.Lost, res.TotalPaid), true

	case domain.ChannelAgentStatus:
		var ae domain.AgentStatusEvent
		if err := json.Unmarshal(raw, &ae); err != nil || ae.AgentID == "" {
			return "", "", false
		}
		msg := fmt.Sprintf("%s is now %s", ae.Name, ae.Status)
		if ae.Detail != "" {
			msg += "\n" + ae.Detail
		}
		return "Agent status", msg, true

	case domain.ChannelMarkets:
		// Market syncs are routine; only surface the event type.
		return "", "", true

	default:
		return "", "", true
	}
}
