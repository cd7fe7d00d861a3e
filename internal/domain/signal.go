package domain

import "time"

type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Value maps a direction onto +1 / -1 / 0 for scoring.
func (d Direction) Value() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	}
	return 0
}

// Signal is a strategy's directional opinion on one bar.
type Signal struct {
	Timestamp  time.Time              `json:"timestamp"`
	Symbol     string                 `json:"symbol"`
	Direction  Direction              `json:"direction"`
	Confidence float64                `json:"confidence"` // 0..1
	StrategyID string                 `json:"strategy_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Signal) IsActionable() bool {
	return s != nil && (s.Direction == DirectionLong || s.Direction == DirectionShort)
}
