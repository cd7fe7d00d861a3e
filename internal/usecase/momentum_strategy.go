package usecase

import (
	"fmt"
	"math"
	"time"

	"github.com/vitos/firebot/internal/domain"
)

// MomentumStrategy goes LONG when the "returns" feature exceeds the threshold
// and SHORT when it falls below its negative.
type MomentumStrategy struct {
	id             string
	LookbackWindow int
	Threshold      float64
	MaxBufferSize  int

	buffer     []domain.Bar
	lastSymbol string
}

func NewMomentumStrategy(id string, lookback int, threshold float64, maxBuffer int) *MomentumStrategy {
	return &MomentumStrategy{
		id:             id,
		LookbackWindow: lookback,
		Threshold:      threshold,
		MaxBufferSize:  maxBuffer,
	}
}

// NewMomentumStrategyFromParams reads lookback_window, threshold and max_buffer_size.
func NewMomentumStrategyFromParams(id string, params map[string]interface{}) (domain.Strategy, error) {
	lookback, err := paramInt(params, "lookback_window", 20)
	if err != nil {
		return nil, err
	}
	threshold, err := paramFloat(params, "threshold", 0.02)
	if err != nil {
		return nil, err
	}
	maxBuffer, err := paramInt(params, "max_buffer_size", 1000)
	if err != nil {
		return nil, err
	}
	if lookback < 2 || threshold <= 0 || maxBuffer < lookback {
		return nil, fmt.Errorf("%w: momentum lookback=%d threshold=%v max_buffer_size=%d",
			domain.ErrInvalidConfig, lookback, threshold, maxBuffer)
	}
	return NewMomentumStrategy(id, lookback, threshold, maxBuffer), nil
}

func (m *MomentumStrategy) ID() string {
	return m.id
}

func (m *MomentumStrategy) OnData(bar domain.Bar) {
	m.buffer = append(m.buffer, bar)
	m.lastSymbol = bar.Symbol
	if len(m.buffer) > m.MaxBufferSize {
		trimmed := make([]domain.Bar, m.MaxBufferSize)
		copy(trimmed, m.buffer[len(m.buffer)-m.MaxBufferSize:])
		m.buffer = trimmed
	}
}

func (m *MomentumStrategy) GenerateSignal(features map[string]float64) *domain.Signal {
	returns, ok := features["returns"]
	if !ok || math.IsNaN(returns) {
		return nil
	}

	direction := domain.DirectionNeutral
	if returns > m.Threshold {
		direction = domain.DirectionLong
	} else if returns < -m.Threshold {
		direction = domain.DirectionShort
	}

	ts := time.Now().UTC()
	symbol := m.lastSymbol
	if n := len(m.buffer); n > 0 {
		ts = m.buffer[n-1].Timestamp
		symbol = m.buffer[n-1].Symbol
	}
	if symbol == "" {
		symbol = "UNKNOWN"
	}

	return &domain.Signal{
		Timestamp:  ts,
		Symbol:     symbol,
		Direction:  direction,
		Confidence: math.Min(math.Abs(returns)/(m.Threshold*5), 1),
		StrategyID: m.id,
		Metadata: map[string]interface{}{
			"returns":         returns,
			"threshold":       m.Threshold,
			"lookback_window": m.LookbackWindow,
		},
	}
}

// CalculateMomentum is the fractional change across the last LookbackWindow bars.
func (m *MomentumStrategy) CalculateMomentum() (float64, bool) {
	if len(m.buffer) < m.LookbackWindow {
		return 0, false
	}
	recent := m.buffer[len(m.buffer)-m.LookbackWindow:]
	start := recent[0].Close.InexactFloat64()
	if start == 0 {
		return 0, false
	}
	return (recent[len(recent)-1].Close.InexactFloat64() - start) / start, true
}

func (m *MomentumStrategy) BufferLen() int {
	return len(m.buffer)
}

func (m *MomentumStrategy) Reset() {
	m.buffer = nil
	m.lastSymbol = ""
}
