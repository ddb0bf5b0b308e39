package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
)

// wsEcho accepts feed connections and relays every received frame.
func wsEcho(t *testing.T) (*httptest.Server, chan *websocket.Conn, chan []byte) {
	t.Helper()

	conns := make(chan *websocket.Conn, 4)
	frames := make(chan []byte, 16)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
		for {
			_, m, err := c.ReadMessage()
			if err != nil {
				return
			}
			frames <- m
		}
	}))
	t.Cleanup(srv.Close)
	return srv, conns, frames
}

func waitFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case m := <-frames:
		return m
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func waitConn(t *testing.T, conns <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func TestPriceFeedReconnectRestoresSubscriptions(t *testing.T) {
	srv, conns, frames := wsEcho(t)

	feed := NewPriceFeed("ws" + strings.TrimPrefix(srv.URL, "http"))
	defer feed.Close()

	quotes := make(chan domain.PriceQuote, 16)
	feed.OnQuote(func(q domain.PriceQuote) { quotes <- q })

	require.NoError(t, feed.Connect(context.Background()))
	first := waitConn(t, conns)

	m := &domain.Market{ID: "m1", TokenIDs: [2]string{"tok-yes", "tok-no"}}
	require.NoError(t, feed.Watch(context.Background(), m))
	assert.Contains(t, string(waitFrame(t, frames)), "subscribe")

	base := runtime.NumGoroutine()

	// Drop the connection server-side; the feed reconnects on its own and
	// re-subscribes the watched tokens.
	_ = first.Close()
	second := waitConn(t, conns)
	resub := string(waitFrame(t, frames))
	assert.Contains(t, resub, "tok-yes")
	assert.Contains(t, resub, "tok-no")

	// The retired connection's loops exit instead of piling up.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base
	}, 10*time.Second, 50*time.Millisecond, "goroutines: %d > %d", runtime.NumGoroutine(), base)

	// Quotes flow on the new connection, exactly once per frame.
	frame := `{"event_type":"last_trade_price","asset_id":"tok-yes","price":"0.42"}`
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(frame)))

	select {
	case q := <-quotes:
		assert.Equal(t, "m1", q.MarketID)
		assert.True(t, q.Yes.Equal(decimal.RequireFromString("0.42")), "yes %s", q.Yes)
	case <-time.After(10 * time.Second):
		t.Fatal("no quote after reconnect")
	}
	select {
	case <-quotes:
		t.Fatal("duplicate quote delivery")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPriceFeedCloseStopsReconnect(t *testing.T) {
	srv, conns, _ := wsEcho(t)

	feed := NewPriceFeed("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, feed.Connect(context.Background()))
	waitConn(t, conns)

	require.NoError(t, feed.Close())

	// A closed feed never dials again.
	select {
	case <-conns:
		t.Fatal("reconnected after Close")
	case <-time.After(3 * reconnectDelay):
	}
	require.Error(t, feed.Connect(context.Background()))
}
