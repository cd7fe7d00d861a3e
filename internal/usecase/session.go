package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

// RunConfig configures one simulated run of a strategy.
type RunConfig struct {
	InitialCapital     decimal.Decimal
	PositionSizePct    decimal.Decimal // fraction of cash per signal, 0.1 when unset
	SlippageBps        decimal.Decimal
	CommissionPerTrade decimal.Decimal
	PriceIncrement     decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
	MaxPositionSizePct decimal.Decimal
	FeatureWindow      int // bars handed to the feature source, 50 when unset
	RiskFreeRate       float64
	PeriodsPerYear     int

	// AbortOnFillError stops the run when a fill cannot be applied to the
	// portfolio (for example a sell without a position). Otherwise the fill
	// is logged and skipped.
	AbortOnFillError bool
	// HaltOnDrawdownBreach stops opening new orders once the drawdown limit is exceeded.
	HaltOnDrawdownBreach bool
}

func (c RunConfig) withDefaults() RunConfig {
	if c.PositionSizePct.IsZero() {
		c.PositionSizePct = decimal.New(1, -1)
	}
	if c.FeatureWindow <= 0 {
		c.FeatureWindow = 50
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = DefaultPeriodsPerYear
	}
	return c
}

// TradeObserver is notified of every trade applied to the portfolio.
type TradeObserver interface {
	ObserveTrade(trade domain.Trade)
}

// TradeLogEntry records a fill applied during a run.
type TradeLogEntry struct {
	Timestamp  time.Time        `json:"timestamp"`
	OrderID    string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Side       domain.OrderSide `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      decimal.Decimal  `json:"price"`
	Commission decimal.Decimal  `json:"commission"`
}

type sessionOptions struct {
	features  domain.FeatureSource
	repo      domain.TradeRepository
	observers []TradeObserver
	clock     func() time.Time
}

type Option func(*sessionOptions)

func WithFeatureSource(fs domain.FeatureSource) Option {
	return func(o *sessionOptions) { o.features = fs }
}

// WithTradeRepository persists every applied trade. Storage errors are logged.
func WithTradeRepository(repo domain.TradeRepository) Option {
	return func(o *sessionOptions) { o.repo = repo }
}

func WithTradeObserver(obs TradeObserver) Option {
	return func(o *sessionOptions) { o.observers = append(o.observers, obs) }
}

// WithClock replaces the bar timestamp as the source of fill and trade times.
func WithClock(now func() time.Time) Option {
	return func(o *sessionOptions) { o.clock = now }
}

// session drives one strategy through bars against its own simulators.
type session struct {
	cfg       RunConfig
	strategy  domain.Strategy
	logger    *zap.Logger
	opts      sessionOptions
	exec      *ExecutionSimulator
	portfolio *PortfolioSimulator

	orderPrefix string
	orderSeq    int
	windows     map[string][]domain.Bar
	equity      []decimal.Decimal
	tradeLog    []TradeLogEntry
	totalTrades int
	halted      bool
	barTime     time.Time
}

func newSession(strategy domain.Strategy, cfg RunConfig, logger *zap.Logger, orderPrefix string, opts []Option) *session {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	o := sessionOptions{features: SnapshotFeatures{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &session{
		cfg:         cfg,
		strategy:    strategy,
		logger:      logger.With(zap.String("strategy_id", strategy.ID())),
		opts:        o,
		orderPrefix: orderPrefix,
		windows:     make(map[string][]domain.Bar),
	}
	s.exec = NewExecutionSimulator(ExecutionConfig{
		FillModel:          FillModelInstant,
		SlippageBps:        cfg.SlippageBps,
		CommissionPerTrade: cfg.CommissionPerTrade,
		PriceIncrement:     cfg.PriceIncrement,
	}, s.logger)
	s.portfolio = NewPortfolioSimulator(PortfolioConfig{
		StrategyID:         strategy.ID(),
		InitialCapital:     cfg.InitialCapital,
		MaxDrawdownPct:     cfg.MaxDrawdownPct,
		MaxPositionSizePct: cfg.MaxPositionSizePct,
	}, s.logger)

	clock := o.clock
	if clock == nil {
		clock = func() time.Time { return s.barTime }
	}
	s.exec.SetClock(clock)
	s.exec.SetFillGuard(s.checkSell)
	s.portfolio.SetClock(clock)
	return s
}

// step processes one bar: strategy update, marking, pending orders, signal,
// order, equity snapshot.
func (s *session) step(ctx context.Context, bar domain.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	s.barTime = bar.Timestamp

	// 1. Feed the strategy
	s.strategy.OnData(bar)

	// 2. Mark positions
	s.portfolio.UpdatePrice(bar.Symbol, bar.Close)
	s.pushWindow(bar)

	// 3. Pending conditional orders
	for _, fill := range s.exec.CheckPendingOrders(map[string]decimal.Decimal{bar.Symbol: bar.Close}) {
		if err := s.applyFill(ctx, fill, s.cfg.AbortOnFillError); err != nil {
			return err
		}
	}

	// 4. Signal
	features, err := s.opts.features.Transform(s.windows[bar.Symbol])
	if err != nil {
		return fmt.Errorf("extract features: %w", err)
	}
	signal := s.strategy.GenerateSignal(features)

	// 5. Market order sized from cash
	if signal.IsActionable() && !s.halted {
		if err := s.trade(ctx, signal, bar); err != nil {
			return err
		}
	}

	// 6. Equity snapshot
	s.equity = append(s.equity, s.portfolio.TotalValue())
	s.portfolio.UpdateHighWaterMark()
	if s.cfg.HaltOnDrawdownBreach && !s.halted && s.portfolio.IsDrawdownBreached() {
		s.halted = true
		s.logger.Warn("Drawdown limit breached, new orders disabled",
			zap.Stringer("drawdown", s.portfolio.Drawdown()),
			zap.Time("bar_time", bar.Timestamp))
	}
	return nil
}

func (s *session) trade(ctx context.Context, signal *domain.Signal, bar domain.Bar) error {
	s.orderSeq++
	cash := s.portfolio.Cash()
	if !cash.IsPositive() {
		return nil
	}
	quantity := cash.Mul(s.cfg.PositionSizePct).Div(bar.Close).Floor()
	if !quantity.IsPositive() {
		return nil
	}

	side := domain.SideBuy
	if signal.Direction == domain.DirectionShort {
		side = domain.SideSell
	}
	price := bar.Close
	order := domain.Order{
		ID:         fmt.Sprintf("%s_%d", s.orderPrefix, s.orderSeq),
		Timestamp:  bar.Timestamp,
		Symbol:     bar.Symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Quantity:   quantity,
		Price:      &price,
		StrategyID: s.strategy.ID(),
	}

	result, err := s.exec.SubmitOrder(order, bar.Close)
	if err != nil {
		if isPositionError(err) && !s.cfg.AbortOnFillError {
			s.logger.Warn("Order skipped",
				zap.String("order_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.String("side", string(order.Side)),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("submit order %s: %w", order.ID, err)
	}
	if !result.IsFilled() {
		return nil
	}
	return s.applyFill(ctx, result, s.cfg.AbortOnFillError)
}

// submit places an externally built order at the last known price of its symbol.
// Every failure is returned to the caller.
func (s *session) submit(ctx context.Context, order domain.Order) (domain.FillResult, error) {
	price, ok := s.portfolio.MarkPrice(order.Symbol)
	if !ok {
		return domain.FillResult{}, fmt.Errorf("%w: no price seen for %s", domain.ErrInvalidInput, order.Symbol)
	}
	result, err := s.exec.SubmitOrder(order, price)
	if err != nil {
		return result, err
	}
	if result.IsFilled() {
		if err := s.applyFill(ctx, result, true); err != nil {
			return result, err
		}
	}
	return result, nil
}

// checkSell refuses sells the portfolio cannot cover, before the execution
// simulator records them as filled.
func (s *session) checkSell(order domain.Order) error {
	if order.Side != domain.SideSell {
		return nil
	}
	position, ok := s.portfolio.Position(order.Symbol)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoPosition, order.Symbol)
	}
	if order.Quantity.GreaterThan(position.Quantity) {
		return fmt.Errorf("%w: cannot sell %s %s, only %s held",
			domain.ErrInsufficientQuantity, order.Quantity, order.Symbol, position.Quantity)
	}
	return nil
}

func isPositionError(err error) bool {
	return errors.Is(err, domain.ErrNoPosition) || errors.Is(err, domain.ErrInsufficientQuantity)
}

func (s *session) applyFill(ctx context.Context, fill domain.FillResult, strict bool) error {
	if err := s.portfolio.ExecuteFill(fill.Symbol, fill.Side, fill.FillQuantity, fill.FillPrice); err != nil {
		if strict {
			return fmt.Errorf("apply fill %s: %w", fill.OrderID, err)
		}
		s.logger.Warn("Fill skipped",
			zap.String("order_id", fill.OrderID),
			zap.String("symbol", fill.Symbol),
			zap.String("side", string(fill.Side)),
			zap.Error(err))
		return nil
	}

	s.totalTrades++
	s.tradeLog = append(s.tradeLog, TradeLogEntry{
		Timestamp:  s.barTime,
		OrderID:    fill.OrderID,
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Quantity:   fill.FillQuantity,
		Price:      fill.FillPrice,
		Commission: fill.Commission,
	})

	if listener, ok := s.strategy.(domain.FillListener); ok {
		listener.OnFill(fill)
	}

	trade, _ := s.portfolio.LastTrade()
	for _, obs := range s.opts.observers {
		obs.ObserveTrade(trade)
	}
	if s.opts.repo != nil {
		ev := domain.NewTradeEvent(trade, map[string]interface{}{
			"order_id":   fill.OrderID,
			"commission": fill.Commission.String(),
		})
		if err := s.opts.repo.SaveTrade(ctx, ev); err != nil {
			s.logger.Error("Failed to persist trade", zap.String("order_id", fill.OrderID), zap.Error(err))
		}
	}
	return nil
}

// pushWindow appends bar to the feature window of its own symbol.
func (s *session) pushWindow(bar domain.Bar) {
	window := append(s.windows[bar.Symbol], bar)
	if n := len(window); n > s.cfg.FeatureWindow {
		copy(window, window[n-s.cfg.FeatureWindow:])
		window = window[:s.cfg.FeatureWindow]
	}
	s.windows[bar.Symbol] = window
}

func (s *session) equityCurve() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.equity))
	copy(out, s.equity)
	return out
}

func (s *session) tradeLogCopy() []TradeLogEntry {
	out := make([]TradeLogEntry, len(s.tradeLog))
	copy(out, s.tradeLog)
	return out
}
