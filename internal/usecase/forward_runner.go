package usecase

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

type ForwardState struct {
	BarCount       int               `json:"bar_count"`
	PortfolioValue decimal.Decimal   `json:"portfolio_value"`
	Cash           decimal.Decimal   `json:"cash"`
	NumPositions   int               `json:"num_positions"`
	NumTrades      int               `json:"num_trades"`
	IsPaused       bool              `json:"is_paused"`
	EquityCurve    []decimal.Decimal `json:"equity_curve"`
}

// ForwardRunner processes bars one at a time as they arrive and keeps all
// state between calls. It is safe for concurrent use.
type ForwardRunner struct {
	mu       sync.RWMutex
	session  *session
	logger   *zap.Logger
	paused   bool
	barCount int
}

func NewForwardRunner(strategy domain.Strategy, cfg RunConfig, logger *zap.Logger, opts ...Option) *ForwardRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForwardRunner{
		session: newSession(strategy, cfg, logger, "fwd", opts),
		logger:  logger,
	}
}

// OnBar processes bar and reports whether it was consumed. Paused runners drop bars.
func (f *ForwardRunner) OnBar(ctx context.Context, bar domain.Bar) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused {
		return false, nil
	}
	if err := f.session.step(ctx, bar); err != nil {
		return false, err
	}
	f.barCount++
	return true, nil
}

func (f *ForwardRunner) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.paused {
		f.logger.Info("Forward runner paused", zap.Int("bar_count", f.barCount))
	}
	f.paused = true
}

func (f *ForwardRunner) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused {
		f.logger.Info("Forward runner resumed", zap.Int("bar_count", f.barCount))
	}
	f.paused = false
}

func (f *ForwardRunner) IsPaused() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.paused
}

func (f *ForwardRunner) BarCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.barCount
}

func (f *ForwardRunner) StrategyID() string {
	return f.session.strategy.ID()
}

func (f *ForwardRunner) State() ForwardState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ForwardState{
		BarCount:       f.barCount,
		PortfolioValue: f.session.portfolio.TotalValue(),
		Cash:           f.session.portfolio.Cash(),
		NumPositions:   f.session.portfolio.NumPositions(),
		NumTrades:      f.session.totalTrades,
		IsPaused:       f.paused,
		EquityCurve:    f.session.equityCurve(),
	}
}

func (f *ForwardRunner) PortfolioSummary() PortfolioSummary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.portfolio.Summary()
}

func (f *ForwardRunner) Positions() []domain.Position {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.portfolio.Positions()
}

func (f *ForwardRunner) TradeLog() []TradeLogEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.tradeLogCopy()
}

// SubmitOrder places a manual order, typically a stop-loss or take-profit,
// against the last close seen for its symbol.
func (f *ForwardRunner) SubmitOrder(ctx context.Context, order domain.Order) (domain.FillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.submit(ctx, order)
}

func (f *ForwardRunner) CancelOrder(orderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.exec.CancelOrder(orderID)
}

func (f *ForwardRunner) PendingOrders() []domain.Order {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.exec.PendingOrders()
}
