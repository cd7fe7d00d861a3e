package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/spot"

	klinePageLimit = 1000
)

// Bar resolutions and their v5 kline intervals.
var intervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W",
}

// Interval maps a bar resolution to the kline interval used in REST queries
// and websocket topics.
func Interval(resolution string) (string, error) {
	iv, ok := intervals[resolution]
	if !ok {
		return "", fmt.Errorf("%w: unsupported resolution %q", domain.ErrInvalidInput, resolution)
	}
	return iv, nil
}

// BybitKlineSource reads historical bars from the public v5 kline endpoint.
type BybitKlineSource struct {
	baseURL  string
	category string
	symbols  []string
	client   *http.Client
	logger   *zap.Logger
}

func NewBybitKlineSource(baseURL, category string, symbols []string, logger *zap.Logger) *BybitKlineSource {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if category == "" {
		category = "spot"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BybitKlineSource{
		baseURL:  baseURL,
		category: category,
		symbols:  symbols,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

func (b *BybitKlineSource) Symbols() ([]string, error) {
	out := make([]string, len(b.symbols))
	copy(out, b.symbols)
	sort.Strings(out)
	return out, nil
}

// GetHistorical pages backwards from end until start is covered. A zero end
// means now; a zero start returns a single page.
func (b *BybitKlineSource) GetHistorical(ctx context.Context, symbol string, start, end time.Time, resolution string) ([]domain.Bar, error) {
	interval, err := Interval(resolution)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}

	var bars []domain.Bar
	cursor := end
	for {
		page, err := b.fetchPage(ctx, symbol, interval, start, cursor)
		if err != nil {
			return nil, err
		}
		for _, bar := range page {
			bar.Resolution = resolution
			bars = append(bars, bar)
		}
		if len(page) < klinePageLimit || start.IsZero() {
			break
		}
		oldest := page[len(page)-1].Timestamp
		if !oldest.After(start) {
			break
		}
		cursor = oldest.Add(-time.Millisecond)
	}

	// Pages arrive newest first.
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	b.logger.Debug("Fetched klines", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	return bars, nil
}

func (b *BybitKlineSource) fetchPage(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("category", b.category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(klinePageLimit))
	q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	if !start.IsZero() {
		q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v5/market/kline?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit kline http %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.RetCode == 10001 {
		return nil, fmt.Errorf("%w: bybit symbol %s: %s", domain.ErrNotFound, symbol, result.RetMsg)
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline error: %d %s", result.RetCode, result.RetMsg)
	}

	bars := make([]domain.Bar, 0, len(result.Result.List))
	for _, raw := range result.Result.List {
		// [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		bar, err := parseKline(symbol, raw)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseKline(symbol string, raw []string) (domain.Bar, error) {
	ts, err := strconv.ParseInt(raw[0], 10, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("%w: kline start %q", domain.ErrInvalidInput, raw[0])
	}
	values := make([]decimal.Decimal, 5)
	for i := range values {
		if values[i], err = decimal.NewFromString(raw[i+1]); err != nil {
			return domain.Bar{}, fmt.Errorf("%w: kline value %q", domain.ErrInvalidInput, raw[i+1])
		}
	}
	return domain.Bar{
		Timestamp: time.UnixMilli(ts).UTC(),
		Symbol:    symbol,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
