package usecase

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

type PortfolioConfig struct {
	StrategyID         string
	InitialCapital     decimal.Decimal
	MaxDrawdownPct     decimal.Decimal // 0.10 = 10%
	MaxPositionSizePct decimal.Decimal // 0.05 = 5% of total value
}

// PortfolioSummary is a flattened numeric snapshot for export.
type PortfolioSummary struct {
	StrategyID    string  `json:"strategy_id"`
	Cash          float64 `json:"cash"`
	TotalValue    float64 `json:"total_value"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	Drawdown      float64 `json:"drawdown"`
	HighWaterMark float64 `json:"high_water_mark"`
	NumPositions  int     `json:"num_positions"`
	NumTrades     int     `json:"num_trades"`
}

// PortfolioSimulator owns one strategy's simulated cash and positions.
type PortfolioSimulator struct {
	cfg           PortfolioConfig
	logger        *zap.Logger
	cash          decimal.Decimal
	positions     map[string]*domain.Position
	marks         map[string]decimal.Decimal
	highWaterMark decimal.Decimal
	realizedPnL   decimal.Decimal
	trades        []domain.Trade
	timeNow       func() time.Time // For testing
}

func NewPortfolioSimulator(cfg PortfolioConfig, logger *zap.Logger) *PortfolioSimulator {
	if cfg.MaxDrawdownPct.IsZero() {
		cfg.MaxDrawdownPct = decimal.New(10, -2)
	}
	if cfg.MaxPositionSizePct.IsZero() {
		cfg.MaxPositionSizePct = decimal.New(5, -2)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &PortfolioSimulator{
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
	p.Reset()
	return p
}

// SetClock overrides the timestamp source for ledger entries.
func (p *PortfolioSimulator) SetClock(now func() time.Time) {
	p.timeNow = now
}

// Reset restores the construction state: all capital in cash, no positions.
func (p *PortfolioSimulator) Reset() {
	p.cash = p.cfg.InitialCapital
	p.positions = make(map[string]*domain.Position)
	p.marks = make(map[string]decimal.Decimal)
	p.highWaterMark = p.cfg.InitialCapital
	p.realizedPnL = decimal.Zero
	p.trades = nil
}

// ExecuteFill applies a fill. Nothing is mutated unless the fill is legal.
func (p *PortfolioSimulator) ExecuteFill(symbol string, side domain.OrderSide, quantity, price decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("%w: fill without symbol", domain.ErrInvalidInput)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: fill quantity must be positive, got %s", domain.ErrInvalidInput, quantity)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: fill price must be positive, got %s", domain.ErrInvalidInput, price)
	}

	switch side {
	case domain.SideBuy:
		p.openOrAdd(symbol, quantity, price)
		return nil
	case domain.SideSell:
		return p.closeOrReduce(symbol, quantity, price)
	}
	return fmt.Errorf("%w: unknown side %q", domain.ErrInvalidInput, side)
}

func (p *PortfolioSimulator) openOrAdd(symbol string, quantity, price decimal.Decimal) {
	p.cash = p.cash.Sub(quantity.Mul(price))
	p.marks[symbol] = price

	if existing, ok := p.positions[symbol]; ok {
		total := existing.Quantity.Add(quantity)
		existing.EntryPrice = existing.EntryPrice.Mul(existing.Quantity).Add(price.Mul(quantity)).Div(total)
		existing.Quantity = total
		existing.CurrentPrice = price
	} else {
		p.positions[symbol] = &domain.Position{
			Symbol:       symbol,
			Quantity:     quantity,
			EntryPrice:   price,
			CurrentPrice: price,
			RealizedPnL:  decimal.Zero,
			StrategyID:   p.cfg.StrategyID,
		}
	}

	p.trades = append(p.trades, domain.Trade{
		Timestamp:  p.timeNow().UTC(),
		StrategyID: p.cfg.StrategyID,
		Symbol:     symbol,
		Side:       domain.SideBuy,
		Quantity:   quantity,
		EntryPrice: price,
		PnL:        decimal.Zero,
	})
}

func (p *PortfolioSimulator) closeOrReduce(symbol string, quantity, price decimal.Decimal) error {
	position, ok := p.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoPosition, symbol)
	}
	if quantity.GreaterThan(position.Quantity) {
		return fmt.Errorf("%w: cannot sell %s %s, only %s held", domain.ErrInsufficientQuantity, quantity, symbol, position.Quantity)
	}

	entry := position.EntryPrice
	pnl := price.Sub(entry).Mul(quantity)
	p.realizedPnL = p.realizedPnL.Add(pnl)
	p.cash = p.cash.Add(quantity.Mul(price))
	p.marks[symbol] = price

	remaining := position.Quantity.Sub(quantity)
	if remaining.IsZero() {
		delete(p.positions, symbol)
	} else {
		position.Quantity = remaining
		position.CurrentPrice = price
		position.RealizedPnL = position.RealizedPnL.Add(pnl)
	}

	exit := price
	p.trades = append(p.trades, domain.Trade{
		Timestamp:  p.timeNow().UTC(),
		StrategyID: p.cfg.StrategyID,
		Symbol:     symbol,
		Side:       domain.SideSell,
		Quantity:   quantity,
		EntryPrice: entry,
		ExitPrice:  &exit,
		PnL:        pnl,
		IsClosed:   true,
	})
	return nil
}

// UpdatePrice sets the mark used for valuation. Cash and realized PnL are untouched.
func (p *PortfolioSimulator) UpdatePrice(symbol string, price decimal.Decimal) {
	p.marks[symbol] = price
	if position, ok := p.positions[symbol]; ok {
		position.CurrentPrice = price
	}
}

// MarkPrice returns the last known price for symbol.
func (p *PortfolioSimulator) MarkPrice(symbol string) (decimal.Decimal, bool) {
	price, ok := p.marks[symbol]
	return price, ok
}

func (p *PortfolioSimulator) UpdateHighWaterMark() {
	if current := p.TotalValue(); current.GreaterThan(p.highWaterMark) {
		p.highWaterMark = current
	}
}

func (p *PortfolioSimulator) IsDrawdownBreached() bool {
	return p.Drawdown().GreaterThan(p.cfg.MaxDrawdownPct)
}

// CalculateMaxPositionSize returns the whole units affordable under the position size limit.
func (p *PortfolioSimulator) CalculateMaxPositionSize(symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: cannot size %s at price %s", domain.ErrInvalidInput, symbol, price)
	}
	return p.TotalValue().Mul(p.cfg.MaxPositionSizePct).Div(price).Floor(), nil
}

func (p *PortfolioSimulator) Cash() decimal.Decimal {
	return p.cash
}

func (p *PortfolioSimulator) InitialCapital() decimal.Decimal {
	return p.cfg.InitialCapital
}

func (p *PortfolioSimulator) RealizedPnL() decimal.Decimal {
	return p.realizedPnL
}

func (p *PortfolioSimulator) HighWaterMark() decimal.Decimal {
	return p.highWaterMark
}

func (p *PortfolioSimulator) TotalValue() decimal.Decimal {
	total := p.cash
	for _, position := range p.positions {
		total = total.Add(position.MarketValue())
	}
	return total
}

// Drawdown is (hwm - value) / hwm rounded to 4 places. It is not clamped, so a
// new high that UpdateHighWaterMark has not recorded yet shows as negative.
func (p *PortfolioSimulator) Drawdown() decimal.Decimal {
	if p.highWaterMark.IsZero() {
		return decimal.Zero
	}
	return p.highWaterMark.Sub(p.TotalValue()).Div(p.highWaterMark).RoundBank(4)
}

func (p *PortfolioSimulator) UnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, position := range p.positions {
		total = total.Add(position.UnrealizedPnL())
	}
	return total
}

// Position returns a copy of the open position for symbol.
func (p *PortfolioSimulator) Position(symbol string) (domain.Position, bool) {
	position, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *position, true
}

func (p *PortfolioSimulator) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(p.positions))
	for _, position := range p.positions {
		out = append(out, *position)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (p *PortfolioSimulator) NumPositions() int {
	return len(p.positions)
}

func (p *PortfolioSimulator) Trades() []domain.Trade {
	out := make([]domain.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// LastTrade returns the most recent ledger entry.
func (p *PortfolioSimulator) LastTrade() (domain.Trade, bool) {
	if len(p.trades) == 0 {
		return domain.Trade{}, false
	}
	return p.trades[len(p.trades)-1], true
}

func (p *PortfolioSimulator) Summary() PortfolioSummary {
	realized := p.realizedPnL
	unrealized := p.UnrealizedPnL()
	return PortfolioSummary{
		StrategyID:    p.cfg.StrategyID,
		Cash:          p.cash.InexactFloat64(),
		TotalValue:    p.TotalValue().InexactFloat64(),
		RealizedPnL:   realized.InexactFloat64(),
		UnrealizedPnL: unrealized.InexactFloat64(),
		TotalPnL:      realized.Add(unrealized).InexactFloat64(),
		Drawdown:      p.Drawdown().InexactFloat64(),
		HighWaterMark: p.highWaterMark.InexactFloat64(),
		NumPositions:  len(p.positions),
		NumTrades:     len(p.trades),
	}
}
