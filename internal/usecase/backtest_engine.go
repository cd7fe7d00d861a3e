package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

type BacktestMetrics struct {
	SharpeRatio     float64 `json:"sharpe_ratio"`
	SortinoRatio    float64 `json:"sortino_ratio"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	TotalTrades     int     `json:"total_trades"`
	TotalCommission float64 `json:"total_commission"`
	InitialCapital  float64 `json:"initial_capital"`
	FinalValue      float64 `json:"final_value"`
	TotalReturn     float64 `json:"total_return"`
}

type BacktestResult struct {
	StrategyID     string
	InitialCapital decimal.Decimal
	FinalValue     decimal.Decimal
	EquityCurve    []decimal.Decimal
	TotalTrades    int
	TradeLog       []TradeLogEntry
	Trades         []domain.Trade
	Summary        PortfolioSummary
	Metrics        BacktestMetrics
}

// Report builds the printable summary of the run.
func (r *BacktestResult) Report(riskFreeRate float64, periodsPerYear int) MetricsReport {
	return NewMetricsReport(r.StrategyID, r.EquityCurve, r.Trades, riskFreeRate, periodsPerYear)
}

// RunRecord is the persisted summary of the run over symbol.
func (r *BacktestResult) RunRecord(symbol string, createdAt time.Time) *domain.RunRecord {
	return &domain.RunRecord{
		StrategyID:     r.StrategyID,
		Symbol:         symbol,
		InitialCapital: r.InitialCapital,
		FinalValue:     r.FinalValue,
		TotalTrades:    r.TotalTrades,
		SharpeRatio:    r.Metrics.SharpeRatio,
		MaxDrawdown:    r.Metrics.MaxDrawdown,
		TotalReturn:    r.Metrics.TotalReturn,
		CreatedAt:      createdAt,
	}
}

// BacktestEngine replays bars through a strategy. Every Run starts from fresh
// simulators, so identical bars give identical results.
type BacktestEngine struct {
	strategy domain.Strategy
	cfg      RunConfig
	logger   *zap.Logger
	opts     []Option
}

func NewBacktestEngine(strategy domain.Strategy, cfg RunConfig, logger *zap.Logger, opts ...Option) *BacktestEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BacktestEngine{
		strategy: strategy,
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
	}
}

// Run processes bars in order. Cancellation is checked between bars.
func (b *BacktestEngine) Run(ctx context.Context, bars []domain.Bar) (*BacktestResult, error) {
	if !b.cfg.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("%w: initial capital must be positive, got %s", domain.ErrInvalidConfig, b.cfg.InitialCapital)
	}
	if r, ok := b.strategy.(domain.Resetter); ok {
		r.Reset()
	}

	s := newSession(b.strategy, b.cfg, b.logger, "bt", b.opts)
	b.logger.Info("Backtest started",
		zap.String("strategy_id", b.strategy.ID()),
		zap.Int("bars", len(bars)))

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.step(ctx, bar); err != nil {
			b.logger.Error("Backtest aborted", zap.Int("bar_index", i), zap.Error(err))
			return nil, err
		}
	}

	result := b.result(s)
	b.logger.Info("Backtest finished",
		zap.String("strategy_id", result.StrategyID),
		zap.Int("trades", result.TotalTrades),
		zap.Stringer("final_value", result.FinalValue),
		zap.Float64("sharpe", result.Metrics.SharpeRatio))
	return result, nil
}

func (b *BacktestEngine) result(s *session) *BacktestResult {
	cfg := s.cfg
	initial := cfg.InitialCapital
	final := s.portfolio.TotalValue()
	equity := s.equityCurve()
	trades := s.portfolio.Trades()
	returns := CalculateReturns(equity)

	commission := decimal.Zero
	for _, entry := range s.tradeLog {
		commission = commission.Add(entry.Commission)
	}

	return &BacktestResult{
		StrategyID:     b.strategy.ID(),
		InitialCapital: initial,
		FinalValue:     final,
		EquityCurve:    equity,
		TotalTrades:    s.totalTrades,
		TradeLog:       s.tradeLogCopy(),
		Trades:         trades,
		Summary:        s.portfolio.Summary(),
		Metrics: BacktestMetrics{
			SharpeRatio:     CalculateSharpeRatio(returns, cfg.RiskFreeRate, cfg.PeriodsPerYear),
			SortinoRatio:    CalculateSortinoRatio(returns, cfg.RiskFreeRate, cfg.PeriodsPerYear),
			MaxDrawdown:     CalculateMaxDrawdown(equity),
			WinRate:         CalculateWinRate(trades),
			ProfitFactor:    CalculateProfitFactor(trades),
			TotalTrades:     s.totalTrades,
			TotalCommission: commission.InexactFloat64(),
			InitialCapital:  initial.InexactFloat64(),
			FinalValue:      final.InexactFloat64(),
			TotalReturn:     final.Sub(initial).Div(initial).InexactFloat64(),
		},
	}
}
