package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/usecase"
)

func TestForwardRunner_PauseResume(t *testing.T) {
	strategy := &scriptStrategy{id: "fwd", dirs: []domain.Direction{domain.DirectionLong}}
	runner := usecase.NewForwardRunner(strategy, runConfig("10000"), zap.NewNop())
	ctx := context.Background()
	bars := makeBars("100", "105", "110", "120")

	ok, err := runner.OnBar(ctx, bars[0])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, runner.BarCount())

	runner.Pause()
	assert.True(t, runner.IsPaused())
	before := runner.State()

	ok, err = runner.OnBar(ctx, bars[1])
	require.NoError(t, err)
	assert.False(t, ok)

	after := runner.State()
	assert.Equal(t, before.BarCount, after.BarCount)
	assert.Len(t, after.EquityCurve, 1)
	assert.True(t, after.IsPaused)
	assert.Equal(t, 1, strategy.seen, "paused bars never reach the strategy")

	runner.Resume()
	for _, bar := range bars[2:] {
		ok, err = runner.OnBar(ctx, bar)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	state := runner.State()
	assert.Equal(t, 3, state.BarCount)
	assert.Equal(t, 1, state.NumTrades)
	assert.Equal(t, 1, state.NumPositions)
	assertDecimal(t, "9000", state.Cash)
	assertDecimal(t, "10200", state.PortfolioValue)
	assert.False(t, state.IsPaused)

	summary := runner.PortfolioSummary()
	assert.Equal(t, "fwd", summary.StrategyID)
	assert.InDelta(t, 200.0, summary.UnrealizedPnL, 1e-9)

	log := runner.TradeLog()
	require.Len(t, log, 1)
	assert.Equal(t, "fwd_1", log[0].OrderID)
}

func TestForwardRunner_MatchesBacktest(t *testing.T) {
	bars := makeBars("100", "103", "106", "104", "100", "108", "110", "105")

	backtest, err := usecase.NewBacktestEngine(usecase.NewMomentumStrategy("mom", 3, 0.02, 100), runConfig("50000"), zap.NewNop()).
		Run(context.Background(), bars)
	require.NoError(t, err)

	runner := usecase.NewForwardRunner(usecase.NewMomentumStrategy("mom", 3, 0.02, 100), runConfig("50000"), zap.NewNop())
	for _, bar := range bars {
		_, err := runner.OnBar(context.Background(), bar)
		require.NoError(t, err)
	}

	state := runner.State()
	require.Len(t, state.EquityCurve, len(backtest.EquityCurve))
	for i := range state.EquityCurve {
		assert.True(t, state.EquityCurve[i].Equal(backtest.EquityCurve[i]), "bar %d differs", i)
	}
	assert.Equal(t, backtest.TotalTrades, state.NumTrades)
}

func TestForwardRunner_PendingStopFills(t *testing.T) {
	strategy := &scriptStrategy{id: "fwd", dirs: []domain.Direction{domain.DirectionLong}}
	runner := usecase.NewForwardRunner(strategy, runConfig("10000"), zap.NewNop())
	ctx := context.Background()
	bars := makeBars("100", "97", "94")

	_, err := runner.OnBar(ctx, bars[0])
	require.NoError(t, err)

	stop := domain.Order{
		ID:       "sl_1",
		Symbol:   "AAPL",
		Side:     domain.SideSell,
		Type:     domain.OrderTypeStopLoss,
		Quantity: dec("10"),
		Price:    decPtr("95"),
	}
	res, err := runner.SubmitOrder(ctx, stop)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusPending, res.Status)
	require.Len(t, runner.PendingOrders(), 1)

	_, err = runner.OnBar(ctx, bars[1])
	require.NoError(t, err)
	assert.Len(t, runner.PendingOrders(), 1)

	_, err = runner.OnBar(ctx, bars[2])
	require.NoError(t, err)
	assert.Empty(t, runner.PendingOrders())

	state := runner.State()
	assert.Equal(t, 2, state.NumTrades)
	assert.Zero(t, state.NumPositions)
	// Bought 10 @ 100, stopped out @ 94.
	assertDecimal(t, "9940", state.Cash)
	assert.InDelta(t, -60.0, runner.PortfolioSummary().RealizedPnL, 1e-9)

	log := runner.TradeLog()
	assert.Equal(t, "sl_1", log[1].OrderID)
	assert.Equal(t, bars[2].Timestamp, log[1].Timestamp)
}

func TestForwardRunner_ManualOrders(t *testing.T) {
	runner := usecase.NewForwardRunner(&scriptStrategy{id: "fwd"}, runConfig("10000"), zap.NewNop())
	ctx := context.Background()

	tp := domain.Order{ID: "tp_1", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeTakeProfit, Quantity: dec("1"), Price: decPtr("150")}
	_, err := runner.SubmitOrder(ctx, tp)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "no price seen yet")

	_, err = runner.OnBar(ctx, makeBars("100")[0])
	require.NoError(t, err)

	res, err := runner.SubmitOrder(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusPending, res.Status)
	assert.True(t, runner.CancelOrder("tp_1"))
	assert.False(t, runner.CancelOrder("tp_1"))

	buy := domain.Order{ID: "m_1", Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: dec("2")}
	res, err = runner.SubmitOrder(ctx, buy)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, res.Status)
	assert.Len(t, runner.Positions(), 1)
}

func TestForwardRunner_ConcurrentReads(t *testing.T) {
	runner := usecase.NewForwardRunner(usecase.NewMomentumStrategy("mom", 3, 0.02, 100), runConfig("10000"), zap.NewNop())
	bars := makeBars("100", "103", "106", "104", "100", "108")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = runner.State()
			_ = runner.PortfolioSummary()
			_ = runner.IsPaused()
		}
	}()
	for _, bar := range bars {
		_, err := runner.OnBar(context.Background(), bar)
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, len(bars), runner.BarCount())
}

func TestForwardRunner_ManualSellBeyondPosition(t *testing.T) {
	runner := usecase.NewForwardRunner(&scriptStrategy{id: "fwd"}, runConfig("10000"), zap.NewNop())
	ctx := context.Background()
	_, err := runner.OnBar(ctx, makeBars("100")[0])
	require.NoError(t, err)

	res, err := runner.SubmitOrder(ctx, domain.Order{ID: "m_1", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeMarket, Quantity: dec("10")})
	assert.ErrorIs(t, err, domain.ErrNoPosition)
	assert.Equal(t, domain.FillStatusRejected, res.Status)

	_, err = runner.SubmitOrder(ctx, domain.Order{ID: "m_2", Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: dec("2")})
	require.NoError(t, err)

	res, err = runner.SubmitOrder(ctx, domain.Order{ID: "m_3", Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeMarket, Quantity: dec("5")})
	assert.ErrorIs(t, err, domain.ErrInsufficientQuantity)
	assert.Equal(t, domain.FillStatusRejected, res.Status)

	state := runner.State()
	assert.Equal(t, 1, state.NumTrades)
	assertDecimal(t, "9800", state.Cash)
	positions := runner.Positions()
	require.Len(t, positions, 1)
	assertDecimal(t, "2", positions[0].Quantity)
}

func TestForwardRunner_SymbolsHaveSeparateWindows(t *testing.T) {
	runner := usecase.NewForwardRunner(usecase.NewMomentumStrategy("mom", 2, 0.01, 100), runConfig("10000"), zap.NewNop())
	ctx := context.Background()

	// Both symbols are flat; only a shared window would see a move.
	for i := 0; i < 6; i++ {
		symbol, close := "BTCUSDT", dec("100")
		if i%2 == 1 {
			symbol, close = "ETHUSDT", dec("50")
		}
		bar := domain.Bar{
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Symbol:     symbol,
			Open:       close,
			High:       close,
			Low:        close,
			Close:      close,
			Volume:     dec("1"),
			Resolution: "1h",
		}
		_, err := runner.OnBar(ctx, bar)
		require.NoError(t, err)
	}

	state := runner.State()
	assert.Zero(t, state.NumTrades)
	assert.Zero(t, state.NumPositions)
	assertDecimal(t, "10000", state.PortfolioValue)
}
