package feed_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/infrastructure/feed"
)

// newServer upgrades a single connection and hands it to serve.
func newServer(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func kline(symbol string, start int64, close string, confirm bool) map[string]interface{} {
	return map[string]interface{}{
		"topic": "kline.D." + symbol,
		"data": []map[string]interface{}{{
			"start":   start,
			"open":    "100",
			"high":    "110",
			"low":     "95",
			"close":   close,
			"volume":  "1234.5",
			"confirm": confirm,
		}},
	}
}

func TestWSBarFeed_DeliversConfirmedBars(t *testing.T) {
	subscribed := make(chan []interface{}, 1)
	url := newServer(t, func(conn *websocket.Conn) {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		args, _ := req["args"].([]interface{})
		subscribed <- args

		conn.WriteJSON(map[string]interface{}{"op": "subscribe", "success": true})
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(kline("AAPL", 1704153600000, "101", false))
		conn.WriteJSON(kline("AAPL", 1704153600000, "102", true))
		conn.WriteJSON(kline("MSFT", 1704240000000, "103", true))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})

	f := feed.NewWSBarFeed(url, []string{"AAPL", "MSFT"}, "D", "1d", zap.NewNop())
	var got []domain.Bar
	err := f.Run(context.Background(), func(ctx context.Context, bar domain.Bar) error {
		got = append(got, bar)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"kline.D.AAPL", "kline.D.MSFT"}, <-subscribed)
	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, "102", got[0].Close.String())
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got[0].Timestamp)
	assert.Equal(t, "1d", got[0].Resolution)
	assert.Equal(t, "1234.5", got[0].Volume.String())
	assert.Equal(t, "MSFT", got[1].Symbol)
}

func TestWSBarFeed_HandlerErrorStops(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		var req map[string]interface{}
		conn.ReadJSON(&req)
		conn.WriteJSON(kline("AAPL", 1704153600000, "102", true))
		conn.WriteJSON(kline("AAPL", 1704240000000, "103", true))
		conn.ReadMessage()
	})

	boom := errors.New("boom")
	calls := 0
	f := feed.NewWSBarFeed(url, []string{"AAPL"}, "D", "1d", nil)
	err := f.Run(context.Background(), func(ctx context.Context, bar domain.Bar) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWSBarFeed_ContextCancel(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	f := feed.NewWSBarFeed(url, []string{"AAPL"}, "D", "1d", nil)
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.Run(ctx, func(context.Context, domain.Bar) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}

func TestWSBarFeed_Errors(t *testing.T) {
	f := feed.NewWSBarFeed("ws://127.0.0.1:1", nil, "D", "1d", nil)
	err := f.Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	f = feed.NewWSBarFeed("ws://127.0.0.1:1/none", []string{"AAPL"}, "D", "1d", nil)
	assert.Error(t, f.Run(context.Background(), nil))
}
