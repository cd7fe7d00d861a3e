package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/firebot/internal/domain"
)

func TestPositionValuation(t *testing.T) {
	p := domain.Position{
		Symbol:       "AAPL",
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.RequireFromString("150"),
		CurrentPrice: decimal.RequireFromString("155.5"),
	}
	assert.Equal(t, "1555", p.MarketValue().String())
	assert.Equal(t, "55", p.UnrealizedPnL().String())
}

func TestTradeEventRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	exit := decimal.RequireFromString("160")
	sell := domain.Trade{
		Timestamp:  ts,
		StrategyID: "mom",
		Symbol:     "AAPL",
		Side:       domain.SideSell,
		Quantity:   decimal.NewFromInt(5),
		EntryPrice: decimal.RequireFromString("150"),
		ExitPrice:  &exit,
		PnL:        decimal.NewFromInt(50),
		IsClosed:   true,
	}

	ev := domain.NewTradeEvent(sell, map[string]interface{}{"order_id": "bt_2"})
	require.True(t, ev.ExitPrice.Valid)
	assert.Equal(t, "bt_2", ev.Metadata["order_id"])

	back := ev.Trade()
	assert.Equal(t, sell.Timestamp, back.Timestamp)
	assert.True(t, back.IsClosed)
	require.NotNil(t, back.ExitPrice)
	assert.True(t, exit.Equal(*back.ExitPrice))
	assert.True(t, sell.PnL.Equal(back.PnL))

	buy := domain.NewTradeEvent(domain.Trade{Side: domain.SideBuy, Quantity: decimal.NewFromInt(1)}, nil).Trade()
	assert.False(t, buy.IsClosed)
	assert.Nil(t, buy.ExitPrice)
}
