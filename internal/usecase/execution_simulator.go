package usecase

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

const FillModelInstant = "instant"

var bpsDivisor = decimal.NewFromInt(10000)

type ExecutionConfig struct {
	FillModel          string
	SlippageBps        decimal.Decimal
	CommissionPerTrade decimal.Decimal
	PriceIncrement     decimal.Decimal // minimum tick, 0.01 when unset
}

// OrderRecord pairs an order with the result it produced.
type OrderRecord struct {
	Order  domain.Order
	Result domain.FillResult
}

// ExecutionSimulator fills orders against a supplied price. Market orders fill
// immediately; conditional orders wait in the pending book until triggered.
type ExecutionSimulator struct {
	cfg     ExecutionConfig
	logger  *zap.Logger
	pending []domain.Order
	history []OrderRecord
	guard   FillGuard
	timeNow func() time.Time // For testing
}

// FillGuard vets an order right before it fills. A non-nil error rejects the
// order instead.
type FillGuard func(order domain.Order) error

func NewExecutionSimulator(cfg ExecutionConfig, logger *zap.Logger) *ExecutionSimulator {
	if cfg.FillModel == "" {
		cfg.FillModel = FillModelInstant
	}
	if !cfg.PriceIncrement.IsPositive() {
		cfg.PriceIncrement = decimal.New(1, -2)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionSimulator{
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
}

// SetClock overrides the timestamp source for fill results.
func (e *ExecutionSimulator) SetClock(now func() time.Time) {
	e.timeNow = now
}

// SetFillGuard installs a check run before every fill, immediate or triggered.
func (e *ExecutionSimulator) SetFillGuard(guard FillGuard) {
	e.guard = guard
}

// SubmitOrder executes or parks an order at currentPrice.
func (e *ExecutionSimulator) SubmitOrder(order domain.Order, currentPrice decimal.Decimal) (domain.FillResult, error) {
	if e.cfg.FillModel != FillModelInstant {
		return domain.FillResult{}, fmt.Errorf("%w: unknown fill model %q", domain.ErrInvalidConfig, e.cfg.FillModel)
	}

	if err := order.Validate(); err != nil {
		return e.reject(order, err), err
	}
	if !currentPrice.IsPositive() {
		err := fmt.Errorf("%w: order %s submitted at non-positive price %s", domain.ErrInvalidInput, order.ID, currentPrice)
		return e.reject(order, err), err
	}

	immediate := !order.IsConditional() || Triggered(order, currentPrice)
	if immediate {
		if err := e.checkGuard(order); err != nil {
			return e.reject(order, err), err
		}
		if order.IsConditional() {
			e.logger.Debug("Conditional order triggered on submit",
				zap.String("order_id", order.ID),
				zap.String("type", string(order.Type)),
				zap.Stringer("price", currentPrice))
		}
		return e.fill(order, currentPrice), nil
	}

	e.pending = append(e.pending, order)
	result := domain.FillResult{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Status:    domain.FillStatusPending,
		Timestamp: e.timeNow().UTC(),
		Message:   fmt.Sprintf("%s waiting for %s", order.Type, order.Price),
	}
	e.history = append(e.history, OrderRecord{Order: order, Result: result})
	return result, nil
}

// CheckPendingOrders re-evaluates the pending book against the latest prices.
// Orders whose symbol has no price stay pending in their original order.
// Triggered orders refused by the fill guard are rejected and dropped.
func (e *ExecutionSimulator) CheckPendingOrders(prices map[string]decimal.Decimal) []domain.FillResult {
	var fills []domain.FillResult
	kept := e.pending[:0]
	for _, order := range e.pending {
		price, ok := prices[order.Symbol]
		if !ok || !Triggered(order, price) {
			kept = append(kept, order)
			continue
		}
		if err := e.checkGuard(order); err != nil {
			e.reject(order, err)
			continue
		}
		fills = append(fills, e.fill(order, price))
	}
	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = domain.Order{}
	}
	e.pending = kept
	return fills
}

// CancelOrder removes a pending order. Filled or unknown orders cannot be cancelled.
func (e *ExecutionSimulator) CancelOrder(orderID string) bool {
	for i, order := range e.pending {
		if order.ID != orderID {
			continue
		}
		e.pending = slices.Delete(e.pending, i, i+1)
		e.history = append(e.history, OrderRecord{
			Order: order,
			Result: domain.FillResult{
				OrderID:   order.ID,
				Symbol:    order.Symbol,
				Side:      order.Side,
				Status:    domain.FillStatusCancelled,
				Timestamp: e.timeNow().UTC(),
				Message:   "cancelled",
			},
		})
		return true
	}
	return false
}

// SignalToOrder builds a fresh order from a directional signal.
func (e *ExecutionSimulator) SignalToOrder(signal domain.Signal, quantity decimal.Decimal, orderType domain.OrderType, price *decimal.Decimal) (domain.Order, error) {
	var side domain.OrderSide
	switch signal.Direction {
	case domain.DirectionLong:
		side = domain.SideBuy
	case domain.DirectionShort:
		side = domain.SideSell
	case domain.DirectionNeutral:
		return domain.Order{}, domain.ErrNeutralSignal
	default:
		return domain.Order{}, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidInput, signal.Direction)
	}
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}

	order := domain.Order{
		ID:         "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Timestamp:  signal.Timestamp,
		Symbol:     signal.Symbol,
		Side:       side,
		Type:       orderType,
		Quantity:   quantity,
		Price:      price,
		StrategyID: signal.StrategyID,
	}
	if err := order.Validate(); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (e *ExecutionSimulator) OrderHistory() []OrderRecord {
	out := make([]OrderRecord, len(e.history))
	copy(out, e.history)
	return out
}

func (e *ExecutionSimulator) PendingOrders() []domain.Order {
	out := make([]domain.Order, len(e.pending))
	copy(out, e.pending)
	return out
}

// FindOrder returns the most recently recorded order with the given id.
func (e *ExecutionSimulator) FindOrder(orderID string) (domain.Order, bool) {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Order.ID == orderID {
			return e.history[i].Order, true
		}
	}
	return domain.Order{}, false
}

func (e *ExecutionSimulator) Reset() {
	e.pending = nil
	e.history = nil
}

// FillPrice applies unfavorable slippage and rounds to the price increment.
func (e *ExecutionSimulator) FillPrice(side domain.OrderSide, currentPrice decimal.Decimal) decimal.Decimal {
	slip := e.cfg.SlippageBps.Div(bpsDivisor)
	var price decimal.Decimal
	if side == domain.SideBuy {
		price = currentPrice.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = currentPrice.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	inc := e.cfg.PriceIncrement
	return price.Div(inc).RoundBank(0).Mul(inc)
}

func (e *ExecutionSimulator) fill(order domain.Order, currentPrice decimal.Decimal) domain.FillResult {
	result := domain.FillResult{
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Status:       domain.FillStatusFilled,
		FillPrice:    e.FillPrice(order.Side, currentPrice),
		FillQuantity: order.Quantity,
		Commission:   e.cfg.CommissionPerTrade,
		Timestamp:    e.timeNow().UTC(),
	}
	e.history = append(e.history, OrderRecord{Order: order, Result: result})
	return result
}

func (e *ExecutionSimulator) checkGuard(order domain.Order) error {
	if e.guard == nil {
		return nil
	}
	return e.guard(order)
}

func (e *ExecutionSimulator) reject(order domain.Order, err error) domain.FillResult {
	result := domain.FillResult{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Status:    domain.FillStatusRejected,
		Timestamp: e.timeNow().UTC(),
		Message:   err.Error(),
	}
	e.history = append(e.history, OrderRecord{Order: order, Result: result})
	e.logger.Warn("Order rejected", zap.String("order_id", order.ID), zap.Error(err))
	return result
}

// Triggered reports whether a conditional order fires at price.
// Orders without a price never fire.
func Triggered(order domain.Order, price decimal.Decimal) bool {
	if order.Price == nil {
		return false
	}
	level := *order.Price
	switch order.Type {
	case domain.OrderTypeStopLoss:
		if order.Side == domain.SideSell {
			return price.LessThanOrEqual(level)
		}
		return price.GreaterThanOrEqual(level)
	case domain.OrderTypeTakeProfit:
		if order.Side == domain.SideSell {
			return price.GreaterThanOrEqual(level)
		}
		return price.LessThanOrEqual(level)
	case domain.OrderTypeLimit:
		if order.Side == domain.SideBuy {
			return price.LessThanOrEqual(level)
		}
		return price.GreaterThanOrEqual(level)
	}
	return false
}
