package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/agentarena/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the reconnect backoff.
	maxReconnectDelay = 60 * time.Second
)

// QuoteHandler receives a fresh quote derived from a live feed message.
type QuoteHandler func(domain.PriceQuote)

// tokenRef locates a CLOB asset within the local mirror.
type tokenRef struct {
	marketID string
	yes      bool
}

// PriceFeed is a WebSocket client for the CLOB market channel. It maps
// asset-level trade prices back to mirrored markets and emits quotes, so
// tracked markets get sub-second price updates between Gamma polls.
type PriceFeed struct {
	wsURL string

	mu     sync.RWMutex
	conn   *websocket.Conn
	gen    chan struct{} // closed when the current connection is torn down
	closed bool

	// tokens indexes subscribed asset ids; restored on reconnect.
	tokens map[string]tokenRef

	handlerMu sync.RWMutex
	handlers  []QuoteHandler

	done chan struct{}
}

// NewPriceFeed creates a feed client for the given WebSocket URL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewPriceFeed(wsURL string) *PriceFeed {
	return &PriceFeed{
		wsURL:  wsURL,
		tokens: make(map[string]tokenRef),
		done:   make(chan struct{}),
	}
}

// OnQuote registers a handler called for every derived quote.
func (f *PriceFeed) OnQuote(h QuoteHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, h)
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Any previous connection's loops are torn down first, so exactly one
// read loop and one ping loop run per live connection. Existing
// subscriptions are restored after a reconnect.
func (f *PriceFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("polymarket/ws: feed closed")
	}
	f.teardownLocked()

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	gen := make(chan struct{})
	f.conn = conn
	f.gen = gen

	go f.readLoop(conn, gen)
	go f.pingLoop(conn, gen)

	if len(f.tokens) > 0 {
		assets := make([]string, 0, len(f.tokens))
		for id := range f.tokens {
			assets = append(assets, id)
		}
		if err := f.sendCommand(WSCommand{Type: "subscribe", Channel: "market", Assets: assets}); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Watch subscribes to the market's yes/no tokens. Markets without token ids
// are skipped silently; they stay on Gamma polling.
func (f *PriceFeed) Watch(ctx context.Context, m *domain.Market) error {
	if m.TokenIDs[0] == "" && m.TokenIDs[1] == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	var assets []string
	if m.TokenIDs[0] != "" {
		f.tokens[m.TokenIDs[0]] = tokenRef{marketID: m.ID, yes: true}
		assets = append(assets, m.TokenIDs[0])
	}
	if m.TokenIDs[1] != "" {
		f.tokens[m.TokenIDs[1]] = tokenRef{marketID: m.ID, yes: false}
		assets = append(assets, m.TokenIDs[1])
	}

	if err := f.sendCommand(WSCommand{Type: "subscribe", Channel: "market", Assets: assets}); err != nil {
		return fmt.Errorf("polymarket/ws: watch %s: %w", m.ID, err)
	}
	return nil
}

// Unwatch drops the market's token subscriptions.
func (f *PriceFeed) Unwatch(ctx context.Context, m *domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	var assets []string
	for _, id := range m.TokenIDs {
		if id == "" {
			continue
		}
		delete(f.tokens, id)
		assets = append(assets, id)
	}
	if len(assets) == 0 {
		return nil
	}

	if err := f.sendCommand(WSCommand{Type: "unsubscribe", Channel: "market", Assets: assets}); err != nil {
		return fmt.Errorf("polymarket/ws: unwatch %s: %w", m.ID, err)
	}
	return nil
}

// Close shuts down the connection and stops the loops.
func (f *PriceFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}
	f.teardownLocked()
	return nil
}

// teardownLocked retires the current connection generation: its loops see
// the closed gen channel and exit, and the socket is closed. Caller must
// hold f.mu.
func (f *PriceFeed) teardownLocked() {
	if f.gen != nil {
		close(f.gen)
		f.gen = nil
	}
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

// sendCommand sends a JSON command. Caller must hold f.mu.
func (f *PriceFeed) sendCommand(cmd WSCommand) error {
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from one connection generation until the socket
// fails, the generation is retired, or the feed closes.
func (f *PriceFeed) readLoop(conn *websocket.Conn, gen <-chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			case <-gen:
				// Superseded by a newer connection; that generation's
				// loops own recovery now.
				return
			default:
			}
			f.reconnect()
			return // the new generation runs its own readLoop
		}

		f.handleMessage(message)
	}
}

// pingLoop keeps one connection generation alive. Writes go through f.mu so
// pings never interleave with command frames on the same socket.
func (f *PriceFeed) pingLoop(conn *websocket.Conn, gen <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-gen:
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn != conn {
				f.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.mu.Unlock()

			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw frame by event type and emits a quote for
// trade-price updates on watched assets.
func (f *PriceFeed) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // drop unparseable frames
	}

	var assetID, priceStr string
	switch envelope.EventType {
	case "last_trade_price":
		var msg LastTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		assetID, priceStr = msg.AssetID, msg.Price
	case "price_change":
		var msg PriceChangeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		assetID, priceStr = msg.AssetID, msg.Price
	default:
		return
	}

	f.mu.RLock()
	ref, ok := f.tokens[assetID]
	f.mu.RUnlock()
	if !ok {
		return
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return
	}
	price = domain.ClampPrice(price)

	quote := domain.PriceQuote{
		MarketID:  ref.marketID,
		UpdatedAt: time.Now().UTC(),
	}
	if ref.yes {
		quote.Yes = price
		quote.No = decimal.NewFromInt(1).Sub(price)
	} else {
		quote.No = price
		quote.Yes = decimal.NewFromInt(1).Sub(price)
	}

	f.handlerMu.RLock()
	handlers := f.handlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(quote)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until success or Close.
func (f *PriceFeed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-f.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
