package usecase

import (
	"fmt"
	"math"

	"github.com/vitos/firebot/internal/domain"
)

const (
	AggregationMajority  = "majority"
	AggregationWeighted  = "weighted"
	AggregationUnanimity = "unanimity"
)

// SignalAggregator combines member signals into one. Empty input yields nil.
type SignalAggregator interface {
	Name() string
	Aggregate(id string, signals []domain.Signal) *domain.Signal
}

// MajorityVote picks the direction with the most votes. Ties are NEUTRAL.
type MajorityVote struct{}

func (MajorityVote) Name() string { return AggregationMajority }

func (a MajorityVote) Aggregate(id string, signals []domain.Signal) *domain.Signal {
	if len(signals) == 0 {
		return nil
	}
	var long, short int
	for _, s := range signals {
		switch s.Direction {
		case domain.DirectionLong:
			long++
		case domain.DirectionShort:
			short++
		}
	}
	total := float64(len(signals))
	switch {
	case long > short:
		return combined(a, id, domain.DirectionLong, float64(long)/total, signals)
	case short > long:
		return combined(a, id, domain.DirectionShort, float64(short)/total, signals)
	}
	return combined(a, id, domain.DirectionNeutral, 0, signals)
}

// WeightedAverage scores each signal as direction * confidence * weight.
// Scores below Threshold in magnitude are NEUTRAL.
type WeightedAverage struct {
	Weights       map[string]float64
	DefaultWeight float64
	Threshold     float64
}

func (WeightedAverage) Name() string { return AggregationWeighted }

func (a WeightedAverage) Aggregate(id string, signals []domain.Signal) *domain.Signal {
	if len(signals) == 0 {
		return nil
	}
	var weighted, total float64
	for _, s := range signals {
		w, ok := a.Weights[s.StrategyID]
		if !ok {
			w = a.DefaultWeight
		}
		weighted += s.Direction.Value() * s.Confidence * w
		total += w
	}
	if total == 0 {
		return combined(a, id, domain.DirectionNeutral, 0, signals)
	}

	score := weighted / total
	direction := domain.DirectionNeutral
	if math.Abs(score) >= a.Threshold {
		if score > 0 {
			direction = domain.DirectionLong
		} else if score < 0 {
			direction = domain.DirectionShort
		}
	}
	return combined(a, id, direction, math.Min(math.Abs(score), 1), signals)
}

// Unanimity is directional only when every non-neutral member agrees.
type Unanimity struct{}

func (Unanimity) Name() string { return AggregationUnanimity }

func (a Unanimity) Aggregate(id string, signals []domain.Signal) *domain.Signal {
	if len(signals) == 0 {
		return nil
	}
	var direction domain.Direction
	var confidence float64
	var n int
	for _, s := range signals {
		if s.Direction == domain.DirectionNeutral {
			continue
		}
		if n > 0 && s.Direction != direction {
			return combined(a, id, domain.DirectionNeutral, 0, signals)
		}
		direction = s.Direction
		confidence += s.Confidence
		n++
	}
	if n == 0 {
		return combined(a, id, domain.DirectionNeutral, 0, signals)
	}
	return combined(a, id, direction, confidence/float64(n), signals)
}

// combined takes symbol and timestamp from the members so replays stay deterministic.
func combined(a SignalAggregator, id string, direction domain.Direction, confidence float64, signals []domain.Signal) *domain.Signal {
	sources := make([]string, len(signals))
	latest := signals[0].Timestamp
	for i, s := range signals {
		sources[i] = s.StrategyID
		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}
	}
	return &domain.Signal{
		Timestamp:  latest,
		Symbol:     signals[0].Symbol,
		Direction:  direction,
		Confidence: math.Max(0, math.Min(confidence, 1)),
		StrategyID: id,
		Metadata: map[string]interface{}{
			"source_strategies":  sources,
			"aggregation_method": a.Name(),
		},
	}
}

// EnsembleStrategy fans bars into its members and aggregates their signals.
type EnsembleStrategy struct {
	id         string
	members    []domain.Strategy
	aggregator SignalAggregator
}

func NewEnsembleStrategy(id string, aggregator SignalAggregator, members ...domain.Strategy) *EnsembleStrategy {
	if aggregator == nil {
		aggregator = MajorityVote{}
	}
	return &EnsembleStrategy{id: id, members: members, aggregator: aggregator}
}

func (e *EnsembleStrategy) ID() string {
	return e.id
}

func (e *EnsembleStrategy) OnData(bar domain.Bar) {
	for _, m := range e.members {
		m.OnData(bar)
	}
}

func (e *EnsembleStrategy) GenerateSignal(features map[string]float64) *domain.Signal {
	signals := make([]domain.Signal, 0, len(e.members))
	for _, m := range e.members {
		if s := m.GenerateSignal(features); s != nil {
			signals = append(signals, *s)
		}
	}
	return e.aggregator.Aggregate(e.id, signals)
}

func (e *EnsembleStrategy) OnFill(fill domain.FillResult) {
	for _, m := range e.members {
		if l, ok := m.(domain.FillListener); ok {
			l.OnFill(fill)
		}
	}
}

func (e *EnsembleStrategy) Reset() {
	for _, m := range e.members {
		if r, ok := m.(domain.Resetter); ok {
			r.Reset()
		}
	}
}

// NewAggregator builds an aggregator by method name.
func NewAggregator(method string, weights map[string]float64, threshold float64) (SignalAggregator, error) {
	switch method {
	case "", AggregationMajority:
		return MajorityVote{}, nil
	case AggregationWeighted:
		return WeightedAverage{Weights: weights, DefaultWeight: 1, Threshold: threshold}, nil
	case AggregationUnanimity:
		return Unanimity{}, nil
	}
	return nil, fmt.Errorf("%w: unknown aggregation method %q", domain.ErrInvalidConfig, method)
}

// RegisterEnsemble adds an "ensemble" factory whose members are built from r.
// Params: method, threshold, weights (id -> weight), members (list of
// {type, id, params}).
func RegisterEnsemble(r *StrategyRegistry) error {
	return r.Register("ensemble", func(id string, params map[string]interface{}) (domain.Strategy, error) {
		method, _ := params["method"].(string)
		threshold, err := paramFloat(params, "threshold", 0)
		if err != nil {
			return nil, err
		}

		weights := make(map[string]float64)
		if raw, ok := params["weights"].(map[string]interface{}); ok {
			for k := range raw {
				w, err := paramFloat(raw, k, 1)
				if err != nil {
					return nil, err
				}
				weights[k] = w
			}
		}

		aggregator, err := NewAggregator(method, weights, threshold)
		if err != nil {
			return nil, err
		}

		rawMembers, _ := params["members"].([]interface{})
		if len(rawMembers) == 0 {
			return nil, fmt.Errorf("%w: ensemble %s has no members", domain.ErrInvalidConfig, id)
		}
		members := make([]domain.Strategy, 0, len(rawMembers))
		for i, raw := range rawMembers {
			spec, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: ensemble %s member %d is not a mapping", domain.ErrInvalidConfig, id, i)
			}
			kind, _ := spec["type"].(string)
			memberID, _ := spec["id"].(string)
			if memberID == "" {
				memberID = fmt.Sprintf("%s_%d", id, i)
			}
			memberParams, _ := spec["params"].(map[string]interface{})
			member, err := r.Create(kind, memberID, memberParams)
			if err != nil {
				return nil, fmt.Errorf("ensemble %s member %d: %w", id, i, err)
			}
			members = append(members, member)
		}
		return NewEnsembleStrategy(id, aggregator, members...), nil
	})
}
