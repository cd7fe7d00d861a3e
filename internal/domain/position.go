package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open long holding in one symbol.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"` // quantity-weighted average
	CurrentPrice decimal.Decimal `json:"current_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	StrategyID   string          `json:"strategy_id"`
}

func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// Trade is an entry in the portfolio ledger. Buys carry only an entry price;
// sells carry both prices and the realized PnL of the lot.
type Trade struct {
	Timestamp  time.Time        `json:"timestamp"`
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	Side       OrderSide        `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
	PnL        decimal.Decimal  `json:"pnl"`
	IsClosed   bool             `json:"is_closed"`
}

// TradeEvent is the persisted form of a Trade.
type TradeEvent struct {
	ID         int64
	Timestamp  time.Time
	StrategyID string
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.NullDecimal
	PnL        decimal.Decimal
	Metadata   map[string]interface{}
}

func NewTradeEvent(t Trade, metadata map[string]interface{}) *TradeEvent {
	ev := &TradeEvent{
		Timestamp:  t.Timestamp,
		StrategyID: t.StrategyID,
		Symbol:     t.Symbol,
		Side:       t.Side,
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		PnL:        t.PnL,
		Metadata:   metadata,
	}
	if t.ExitPrice != nil {
		ev.ExitPrice = decimal.NewNullDecimal(*t.ExitPrice)
	}
	return ev
}

// Trade converts a stored event back into a ledger entry. Events with an exit
// price are closed lots.
func (e *TradeEvent) Trade() Trade {
	t := Trade{
		Timestamp:  e.Timestamp,
		StrategyID: e.StrategyID,
		Symbol:     e.Symbol,
		Side:       e.Side,
		Quantity:   e.Quantity,
		EntryPrice: e.EntryPrice,
		PnL:        e.PnL,
	}
	if e.ExitPrice.Valid {
		exit := e.ExitPrice.Decimal
		t.ExitPrice = &exit
		t.IsClosed = true
	}
	return t
}

// TradeFilter narrows ListTrades. Zero values mean "any".
type TradeFilter struct {
	StrategyID string
	Symbol     string
	Start      time.Time
	End        time.Time
	Limit      int
}

// RunRecord summarizes one finished backtest.
type RunRecord struct {
	ID             int64           `json:"id"`
	StrategyID     string          `json:"strategy_id"`
	Symbol         string          `json:"symbol"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalValue     decimal.Decimal `json:"final_value"`
	TotalTrades    int             `json:"total_trades"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	TotalReturn    float64         `json:"total_return"`
	CreatedAt      time.Time       `json:"created_at"`
}
