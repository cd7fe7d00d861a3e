package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV observation for a symbol.
type Bar struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	Resolution string          `json:"resolution"`
}

func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: bar without symbol", ErrInvalidInput)
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("%w: bar %s high %s below low %s", ErrInvalidInput, b.Symbol, b.High, b.Low)
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("%w: bar %s negative volume %s", ErrInvalidInput, b.Symbol, b.Volume)
	}
	return nil
}
