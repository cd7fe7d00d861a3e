package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

const topicPrefix = "kline."

// BarHandler receives confirmed bars in arrival order. A non-nil error stops the feed.
type BarHandler func(ctx context.Context, bar domain.Bar) error

// WSBarFeed subscribes to kline.<interval>.<symbol> topics and emits a bar
// each time a candle is confirmed.
type WSBarFeed struct {
	url        string
	symbols    []string
	interval   string
	resolution string
	logger     *zap.Logger

	PingInterval time.Duration
	ReadTimeout  time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

type klineMessage struct {
	Topic string        `json:"topic"`
	Data  []klinePacket `json:"data"`
}

type klinePacket struct {
	Start   int64           `json:"start"`
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"high"`
	Low     decimal.Decimal `json:"low"`
	Close   decimal.Decimal `json:"close"`
	Volume  decimal.Decimal `json:"volume"`
	Confirm bool            `json:"confirm"`
}

// NewWSBarFeed builds a feed. interval is the exchange topic interval
// ("1", "60", "D"); resolution is what ends up on the emitted bars.
func NewWSBarFeed(url string, symbols []string, interval, resolution string, logger *zap.Logger) *WSBarFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSBarFeed{
		url:          url,
		symbols:      symbols,
		interval:     interval,
		resolution:   resolution,
		logger:       logger,
		PingInterval: 20 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// Run connects, subscribes and blocks delivering bars to handler until ctx is
// done, the server closes normally, or handler fails.
func (f *WSBarFeed) Run(ctx context.Context, handler BarHandler) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("%w: feed has no symbols", domain.ErrInvalidConfig)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer f.close()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("Feed connected", zap.String("url", f.url), zap.Strings("symbols", f.symbols))

	done := make(chan struct{})
	defer close(done)
	go f.keepAlive(ctx, done)

	conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))

		bars, err := f.decode(message)
		if err != nil {
			f.logger.Warn("Dropping feed message", zap.Error(err))
			continue
		}
		for _, bar := range bars {
			if err := handler(ctx, bar); err != nil {
				return err
			}
		}
	}
}

func (f *WSBarFeed) subscribe() error {
	args := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		args[i] = topicPrefix + f.interval + "." + s
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

// keepAlive pings the server and closes the connection once ctx is done so
// the blocked read returns.
func (f *WSBarFeed) keepAlive(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			f.close()
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn != nil {
				f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			f.mu.Unlock()
		}
	}
}

func (f *WSBarFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// decode returns the confirmed bars in message. Non-kline messages such as
// subscription acks yield nothing.
func (f *WSBarFeed) decode(message []byte) ([]domain.Bar, error) {
	var msg klineMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(msg.Topic, topicPrefix) {
		return nil, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(msg.Topic, topicPrefix), ".", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.New("malformed topic " + msg.Topic)
	}
	symbol := parts[1]

	var bars []domain.Bar
	for _, k := range msg.Data {
		if !k.Confirm {
			continue
		}
		bars = append(bars, domain.Bar{
			Timestamp:  time.UnixMilli(k.Start).UTC(),
			Symbol:     symbol,
			Open:       k.Open,
			High:       k.High,
			Low:        k.Low,
			Close:      k.Close,
			Volume:     k.Volume,
			Resolution: f.resolution,
		})
	}
	return bars, nil
}
