package usecase

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vitos/firebot/internal/domain"
)

// StrategyFactory builds a strategy instance from its id and parameters.
type StrategyFactory func(id string, params map[string]interface{}) (domain.Strategy, error)

// StrategyRegistry maps strategy names to factories. Construct one explicitly
// and pass it to whatever needs to build strategies.
type StrategyRegistry struct {
	mu        sync.RWMutex
	factories map[string]StrategyFactory
}

func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{factories: make(map[string]StrategyFactory)}
}

// NewDefaultRegistry returns a registry with the built-in strategies.
func NewDefaultRegistry() *StrategyRegistry {
	r := NewStrategyRegistry()
	_ = r.Register("momentum", NewMomentumStrategyFromParams)
	_ = RegisterEnsemble(r)
	return r
}

func (r *StrategyRegistry) Register(name string, factory StrategyFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("%w: strategy name and factory are required", domain.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: strategy %q is already registered", domain.ErrDuplicate, name)
	}
	r.factories[name] = factory
	return nil
}

func (r *StrategyRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		return fmt.Errorf("%w: strategy %q is not registered", domain.ErrNotFound, name)
	}
	delete(r.factories, name)
	return nil
}

func (r *StrategyRegistry) Create(name, id string, params map[string]interface{}) (domain.Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: strategy %q is not registered", domain.ErrNotFound, name)
	}
	return factory(id, params)
}

func (r *StrategyRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// paramInt and paramFloat accept the numeric shapes YAML and JSON decoders produce.
func paramInt(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", domain.ErrInvalidConfig, key, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: %s has unsupported type %T", domain.ErrInvalidConfig, key, v)
}

func paramFloat(params map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %s has unsupported type %T", domain.ErrInvalidConfig, key, v)
}
