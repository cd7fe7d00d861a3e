package usecase

import (
	"fmt"
	"math"

	"github.com/vitos/firebot/internal/domain"
)

// SnapshotFeatures exposes the last bar's OHLCV and its return vs the previous bar.
type SnapshotFeatures struct{}

func (SnapshotFeatures) Transform(bars []domain.Bar) (map[string]float64, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: cannot transform empty data", domain.ErrInvalidInput)
	}
	last := bars[len(bars)-1]
	closes := closesOf(bars[max(0, len(bars)-2):])

	return map[string]float64{
		"open":    last.Open.InexactFloat64(),
		"high":    last.High.InexactFloat64(),
		"low":     last.Low.InexactFloat64(),
		"close":   last.Close.InexactFloat64(),
		"volume":  last.Volume.InexactFloat64(),
		"returns": lastReturn(closes),
	}, nil
}

func (SnapshotFeatures) FeatureNames() []string {
	return []string{"open", "high", "low", "close", "volume", "returns"}
}

// TechnicalFeatures computes simple moving averages, the last return and
// return volatility over a window of closes.
type TechnicalFeatures struct {
	SMAPeriods       []int
	VolatilityPeriod int
}

func NewTechnicalFeatures(smaPeriods []int, volatilityPeriod int) *TechnicalFeatures {
	if len(smaPeriods) == 0 {
		smaPeriods = []int{5, 10, 20}
	}
	if volatilityPeriod <= 0 {
		volatilityPeriod = 20
	}
	return &TechnicalFeatures{SMAPeriods: smaPeriods, VolatilityPeriod: volatilityPeriod}
}

// Transform returns NaN for an SMA whose period exceeds the available bars.
// Volatility falls back to all available returns when the window is short.
func (f *TechnicalFeatures) Transform(bars []domain.Bar) (map[string]float64, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: cannot transform empty data", domain.ErrInvalidInput)
	}
	closes := closesOf(bars)
	features := make(map[string]float64, len(f.SMAPeriods)+2)

	for _, period := range f.SMAPeriods {
		key := fmt.Sprintf("sma_%d", period)
		if period <= 0 || len(closes) < period {
			features[key] = math.NaN()
			continue
		}
		var sum float64
		for _, c := range closes[len(closes)-period:] {
			sum += c
		}
		features[key] = sum / float64(period)
	}

	features["returns"] = lastReturn(closes)

	returns := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	if len(returns) > f.VolatilityPeriod {
		returns = returns[len(returns)-f.VolatilityPeriod:]
	}
	features["volatility"] = populationStd(returns)

	return features, nil
}

func (f *TechnicalFeatures) FeatureNames() []string {
	names := make([]string, 0, len(f.SMAPeriods)+2)
	for _, period := range f.SMAPeriods {
		names = append(names, fmt.Sprintf("sma_%d", period))
	}
	return append(names, "returns", "volatility")
}

func closesOf(bars []domain.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close.InexactFloat64()
	}
	return closes
}

func lastReturn(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	prev := closes[len(closes)-2]
	if prev == 0 {
		return 0
	}
	return (closes[len(closes)-1] - prev) / prev
}

func populationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := meanOf(values)
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
