package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// Order is a request to trade. Price is the limit or trigger price and is
// required for everything except MARKET.
type Order struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	Symbol     string           `json:"symbol"`
	Side       OrderSide        `json:"side"`
	Type       OrderType        `json:"order_type"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StrategyID string           `json:"strategy_id"`
}

func (o Order) IsConditional() bool {
	return o.Type == OrderTypeStopLoss || o.Type == OrderTypeTakeProfit || o.Type == OrderTypeLimit
}

func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: order without id", ErrInvalidInput)
	}
	if o.Symbol == "" {
		return fmt.Errorf("%w: order %s without symbol", ErrInvalidInput, o.ID)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("%w: order %s has unknown side %q", ErrInvalidInput, o.ID, o.Side)
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit, OrderTypeStopLoss, OrderTypeTakeProfit:
		if o.Price == nil || !o.Price.IsPositive() {
			return fmt.Errorf("%w: %s order %s requires a positive price", ErrInvalidInput, o.Type, o.ID)
		}
	default:
		return fmt.Errorf("%w: order %s has unknown type %q", ErrInvalidInput, o.ID, o.Type)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: order %s quantity must be positive, got %s", ErrInvalidInput, o.ID, o.Quantity)
	}
	return nil
}

type FillStatus string

const (
	FillStatusFilled    FillStatus = "filled"
	FillStatusPending   FillStatus = "pending"
	FillStatusRejected  FillStatus = "rejected"
	FillStatusCancelled FillStatus = "cancelled"
)

// FillResult records what happened to an order once it left "submitted".
type FillResult struct {
	OrderID      string          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Status       FillStatus      `json:"status"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FillQuantity decimal.Decimal `json:"fill_quantity"`
	Commission   decimal.Decimal `json:"commission"`
	Timestamp    time.Time       `json:"timestamp"`
	Message      string          `json:"message,omitempty"`
}

func (r FillResult) IsFilled() bool {
	return r.Status == FillStatusFilled
}
