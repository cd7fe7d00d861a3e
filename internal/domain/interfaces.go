package domain

import (
	"context"
	"time"
)

// Strategy turns a stream of bars into signals.
type Strategy interface {
	ID() string
	OnData(bar Bar)
	GenerateSignal(features map[string]float64) *Signal
}

// FillListener is implemented by strategies that want fill notifications.
type FillListener interface {
	OnFill(fill FillResult)
}

// Resetter is implemented by strategies that keep state between runs.
type Resetter interface {
	Reset()
}

// FeatureSource maps a window of bars (oldest first) to named features.
type FeatureSource interface {
	Transform(bars []Bar) (map[string]float64, error)
	FeatureNames() []string
}

// DataSource produces historical bars. Unknown symbols return ErrNotFound.
type DataSource interface {
	GetHistorical(ctx context.Context, symbol string, start, end time.Time, resolution string) ([]Bar, error)
	Symbols() ([]string, error)
}

// TradeRepository defines storage operations for the trade ledger and run summaries.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *TradeEvent) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]*TradeEvent, error)
	ListStrategies(ctx context.Context) ([]string, error)
	ListSymbols(ctx context.Context) ([]string, error)
	CountTrades(ctx context.Context) (int, error)

	SaveRun(ctx context.Context, run *RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}
