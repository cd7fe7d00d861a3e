package usecase_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/usecase"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newSimulator(bps string) *usecase.ExecutionSimulator {
	return usecase.NewExecutionSimulator(usecase.ExecutionConfig{
		FillModel:   usecase.FillModelInstant,
		SlippageBps: dec(bps),
	}, zap.NewNop())
}

func marketOrder(id string, side domain.OrderSide, qty string) domain.Order {
	return domain.Order{
		ID:       id,
		Symbol:   "AAPL",
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: dec(qty),
	}
}

func TestSubmitOrder_SlippageIsUnfavorable(t *testing.T) {
	sim := newSimulator("10")

	buy, err := sim.SubmitOrder(marketOrder("b1", domain.SideBuy, "10"), dec("100.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, buy.Status)
	assert.True(t, buy.FillPrice.Equal(dec("100.10")), "buy filled at %s", buy.FillPrice)
	assert.True(t, buy.FillQuantity.Equal(dec("10")))

	sell, err := sim.SubmitOrder(marketOrder("s1", domain.SideSell, "10"), dec("100.00"))
	require.NoError(t, err)
	assert.True(t, sell.FillPrice.Equal(dec("99.90")), "sell filled at %s", sell.FillPrice)

	assert.Len(t, sim.OrderHistory(), 2)
}

func TestSubmitOrder_RoundsToPriceIncrement(t *testing.T) {
	sim := newSimulator("5")

	// 123.45 * 1.0005 = 123.511725
	res, err := sim.SubmitOrder(marketOrder("b1", domain.SideBuy, "1"), dec("123.45"))
	require.NoError(t, err)
	assert.Equal(t, "123.51", res.FillPrice.StringFixed(2))
	assert.True(t, res.FillPrice.Equal(res.FillPrice.Round(2)))
}

func TestSubmitOrder_UnknownFillModel(t *testing.T) {
	sim := usecase.NewExecutionSimulator(usecase.ExecutionConfig{FillModel: "realistic"}, zap.NewNop())

	_, err := sim.SubmitOrder(marketOrder("b1", domain.SideBuy, "1"), dec("100"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Empty(t, sim.OrderHistory())
}

func TestSubmitOrder_RejectsInvalidOrder(t *testing.T) {
	sim := newSimulator("0")

	res, err := sim.SubmitOrder(marketOrder("b1", domain.SideBuy, "0"), dec("100"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.FillStatusRejected, res.Status)

	res, err = sim.SubmitOrder(marketOrder("b2", domain.SideBuy, "1"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.FillStatusRejected, res.Status)
}

func TestTriggerTable(t *testing.T) {
	tests := []struct {
		name      string
		orderType domain.OrderType
		side      domain.OrderSide
		level     string
		price     string
		want      bool
	}{
		{"SL sell below", domain.OrderTypeStopLoss, domain.SideSell, "95", "94.99", true},
		{"SL sell at", domain.OrderTypeStopLoss, domain.SideSell, "95", "95", true},
		{"SL sell above", domain.OrderTypeStopLoss, domain.SideSell, "95", "95.01", false},
		{"SL buy above", domain.OrderTypeStopLoss, domain.SideBuy, "105", "105.01", true},
		{"SL buy at", domain.OrderTypeStopLoss, domain.SideBuy, "105", "105", true},
		{"SL buy below", domain.OrderTypeStopLoss, domain.SideBuy, "105", "104.99", false},
		{"TP sell above", domain.OrderTypeTakeProfit, domain.SideSell, "110", "110.01", true},
		{"TP sell at", domain.OrderTypeTakeProfit, domain.SideSell, "110", "110", true},
		{"TP sell below", domain.OrderTypeTakeProfit, domain.SideSell, "110", "109.99", false},
		{"TP buy below", domain.OrderTypeTakeProfit, domain.SideBuy, "90", "89.99", true},
		{"TP buy at", domain.OrderTypeTakeProfit, domain.SideBuy, "90", "90", true},
		{"TP buy above", domain.OrderTypeTakeProfit, domain.SideBuy, "90", "90.01", false},
		{"LIMIT buy marketable", domain.OrderTypeLimit, domain.SideBuy, "100", "99", true},
		{"LIMIT sell not marketable", domain.OrderTypeLimit, domain.SideSell, "100", "99", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := domain.Order{
				ID:       "c1",
				Symbol:   "AAPL",
				Side:     tt.side,
				Type:     tt.orderType,
				Quantity: dec("1"),
				Price:    decPtr(tt.level),
			}
			assert.Equal(t, tt.want, usecase.Triggered(order, dec(tt.price)))

			sim := newSimulator("0")
			res, err := sim.SubmitOrder(order, dec(tt.price))
			require.NoError(t, err)
			if tt.want {
				assert.Equal(t, domain.FillStatusFilled, res.Status)
				assert.Empty(t, sim.PendingOrders())
			} else {
				assert.Equal(t, domain.FillStatusPending, res.Status)
				assert.Len(t, sim.PendingOrders(), 1)
			}
		})
	}
}

func TestTriggered_NoPriceNeverFires(t *testing.T) {
	order := domain.Order{ID: "x", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeStopLoss, Quantity: dec("1")}
	assert.False(t, usecase.Triggered(order, dec("0.01")))
	assert.False(t, usecase.Triggered(order, dec("1000000")))
}

func TestCheckPendingOrders(t *testing.T) {
	sim := newSimulator("0")

	stop := domain.Order{ID: "sl", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeStopLoss, Quantity: dec("10"), Price: decPtr("95")}
	tp := domain.Order{ID: "tp", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeTakeProfit, Quantity: dec("10"), Price: decPtr("110")}
	other := domain.Order{ID: "msft", Symbol: "MSFT", Side: domain.SideSell, Type: domain.OrderTypeStopLoss, Quantity: dec("5"), Price: decPtr("300")}

	quotes := map[string]string{"AAPL": "100", "MSFT": "310"}
	for _, o := range []domain.Order{stop, other, tp} {
		res, err := sim.SubmitOrder(o, dec(quotes[o.Symbol]))
		require.NoError(t, err)
		require.Equal(t, domain.FillStatusPending, res.Status)
	}
	require.Len(t, sim.PendingOrders(), 3)

	// No price for anything: nothing fires.
	assert.Empty(t, sim.CheckPendingOrders(map[string]decimal.Decimal{}))

	// AAPL drops through the stop, MSFT has no quote and stays pending.
	fills := sim.CheckPendingOrders(map[string]decimal.Decimal{"AAPL": dec("94")})
	require.Len(t, fills, 1)
	assert.Equal(t, "sl", fills[0].OrderID)
	assert.Equal(t, domain.SideSell, fills[0].Side)
	assert.True(t, fills[0].FillPrice.Equal(dec("94")))

	pending := sim.PendingOrders()
	require.Len(t, pending, 2)
	assert.Equal(t, "msft", pending[0].ID)
	assert.Equal(t, "tp", pending[1].ID)

	// A filled order is not re-reported.
	fills = sim.CheckPendingOrders(map[string]decimal.Decimal{"AAPL": dec("94")})
	assert.Empty(t, fills)
}

func TestCancelOrder(t *testing.T) {
	sim := newSimulator("0")

	stop := domain.Order{ID: "sl", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeStopLoss, Quantity: dec("10"), Price: decPtr("95")}
	_, err := sim.SubmitOrder(stop, dec("100"))
	require.NoError(t, err)

	_, err = sim.SubmitOrder(marketOrder("m1", domain.SideBuy, "1"), dec("100"))
	require.NoError(t, err)

	assert.False(t, sim.CancelOrder("m1"), "filled orders cannot be cancelled")
	assert.False(t, sim.CancelOrder("missing"))
	assert.True(t, sim.CancelOrder("sl"))
	assert.False(t, sim.CancelOrder("sl"))
	assert.Empty(t, sim.PendingOrders())

	assert.Empty(t, sim.CheckPendingOrders(map[string]decimal.Decimal{"AAPL": dec("1")}))

	history := sim.OrderHistory()
	assert.Equal(t, domain.FillStatusCancelled, history[len(history)-1].Result.Status)
}

func TestCancelOrder_KeepsRestOfBook(t *testing.T) {
	sim := newSimulator("0")
	for _, id := range []string{"a", "b", "c"} {
		o := domain.Order{ID: id, Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeStopLoss, Quantity: dec("1"), Price: decPtr("90")}
		_, err := sim.SubmitOrder(o, dec("100"))
		require.NoError(t, err)
	}

	require.True(t, sim.CancelOrder("b"))
	d := domain.Order{ID: "d", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeStopLoss, Quantity: dec("1"), Price: decPtr("80")}
	_, err := sim.SubmitOrder(d, dec("100"))
	require.NoError(t, err)

	var ids []string
	for _, o := range sim.PendingOrders() {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)

	fills := sim.CheckPendingOrders(map[string]decimal.Decimal{"AAPL": dec("85")})
	require.Len(t, fills, 2)
	assert.Equal(t, "a", fills[0].OrderID)
	assert.Equal(t, "c", fills[1].OrderID)
}

func TestFillGuard(t *testing.T) {
	sim := newSimulator("0")
	sim.SetFillGuard(func(o domain.Order) error {
		if o.Side == domain.SideSell {
			return domain.ErrNoPosition
		}
		return nil
	})

	res, err := sim.SubmitOrder(marketOrder("s1", domain.SideSell, "1"), dec("100"))
	assert.ErrorIs(t, err, domain.ErrNoPosition)
	assert.Equal(t, domain.FillStatusRejected, res.Status)

	_, err = sim.SubmitOrder(marketOrder("b1", domain.SideBuy, "1"), dec("100"))
	require.NoError(t, err)

	stop := domain.Order{ID: "sl", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeStopLoss, Quantity: dec("1"), Price: decPtr("95")}
	res, err = sim.SubmitOrder(stop, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusPending, res.Status)

	// Triggered but refused: dropped from the book, never reported as a fill.
	assert.Empty(t, sim.CheckPendingOrders(map[string]decimal.Decimal{"AAPL": dec("90")}))
	assert.Empty(t, sim.PendingOrders())

	var statuses []domain.FillStatus
	for _, rec := range sim.OrderHistory() {
		statuses = append(statuses, rec.Result.Status)
	}
	assert.Equal(t, []domain.FillStatus{
		domain.FillStatusRejected, domain.FillStatusFilled, domain.FillStatusPending, domain.FillStatusRejected,
	}, statuses)
}

func TestSignalToOrder(t *testing.T) {
	sim := newSimulator("0")
	ts := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

	long := domain.Signal{Timestamp: ts, Symbol: "AAPL", Direction: domain.DirectionLong, Confidence: 0.8, StrategyID: "mom"}
	order, err := sim.SignalToOrder(long, dec("10"), domain.OrderTypeMarket, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.Equal(t, "mom", order.StrategyID)
	assert.Equal(t, ts, order.Timestamp)
	assert.Len(t, order.ID, len("order_")+8)

	other, err := sim.SignalToOrder(long, dec("10"), "", nil)
	require.NoError(t, err)
	assert.NotEqual(t, order.ID, other.ID)
	assert.Equal(t, domain.OrderTypeMarket, other.Type)

	short := long
	short.Direction = domain.DirectionShort
	stop, err := sim.SignalToOrder(short, dec("5"), domain.OrderTypeStopLoss, decPtr("95"))
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, stop.Side)
	assert.True(t, stop.Price.Equal(dec("95")))

	neutral := long
	neutral.Direction = domain.DirectionNeutral
	_, err = sim.SignalToOrder(neutral, dec("10"), domain.OrderTypeMarket, nil)
	assert.ErrorIs(t, err, domain.ErrNeutralSignal)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFindOrder(t *testing.T) {
	sim := newSimulator("0")
	_, err := sim.SubmitOrder(marketOrder("m1", domain.SideBuy, "3"), dec("50"))
	require.NoError(t, err)

	order, ok := sim.FindOrder("m1")
	require.True(t, ok)
	assert.True(t, order.Quantity.Equal(dec("3")))

	_, ok = sim.FindOrder("nope")
	assert.False(t, ok)

	sim.Reset()
	assert.Empty(t, sim.OrderHistory())
}
