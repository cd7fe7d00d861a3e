package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/firebot/internal/domain"
)

func TestRealizedEquity(t *testing.T) {
	trades := []domain.Trade{
		{Side: domain.SideBuy, PnL: decimal.Zero},
		{Side: domain.SideSell, PnL: decimal.NewFromInt(150), IsClosed: true},
		{Side: domain.SideSell, PnL: decimal.NewFromInt(-50), IsClosed: true},
	}
	curve := realizedEquity(decimal.NewFromInt(1000), trades)
	require.Len(t, curve, 4)

	want := []string{"1000", "1000", "1150", "1100"}
	for i, w := range want {
		assert.Equal(t, w, curve[i].String(), "point %d", i)
	}
}
