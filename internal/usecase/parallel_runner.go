package usecase

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vitos/firebot/internal/domain"
)

// StrategySpec describes one strategy instance to run in isolation.
type StrategySpec struct {
	ID     string                 // instance id, unique per runner
	Type   string                 // registry name
	Params map[string]interface{} // factory parameters
	Config RunConfig
}

// ParallelRunner backtests several strategies over the same bars. Each run
// gets its own strategy instance and simulators.
type ParallelRunner struct {
	mu       sync.Mutex
	registry *StrategyRegistry
	logger   *zap.Logger
	workers  int
	specs    map[string]StrategySpec
	opts     []Option
}

func NewParallelRunner(registry *StrategyRegistry, workers int, logger *zap.Logger, opts ...Option) *ParallelRunner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelRunner{
		registry: registry,
		logger:   logger,
		workers:  workers,
		specs:    make(map[string]StrategySpec),
		opts:     opts,
	}
}

func (p *ParallelRunner) Register(spec StrategySpec) error {
	if spec.ID == "" || spec.Type == "" {
		return fmt.Errorf("%w: strategy spec needs an id and a type", domain.ErrInvalidInput)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.specs[spec.ID]; exists {
		return fmt.Errorf("%w: strategy %s already registered", domain.ErrDuplicate, spec.ID)
	}
	p.specs[spec.ID] = spec
	return nil
}

func (p *ParallelRunner) Unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.specs, id)
}

func (p *ParallelRunner) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.specs)
}

// RunBacktests runs every registered strategy and returns results by id.
// The first failure cancels the remaining runs.
func (p *ParallelRunner) RunBacktests(ctx context.Context, bars []domain.Bar) (map[string]*BacktestResult, error) {
	p.mu.Lock()
	specs := make([]StrategySpec, 0, len(p.specs))
	for _, spec := range p.specs {
		specs = append(specs, spec)
	}
	p.mu.Unlock()

	// Each strategy is built before any run starts so config errors fail fast.
	strategies := make([]domain.Strategy, len(specs))
	for i, spec := range specs {
		s, err := p.registry.Create(spec.Type, spec.ID, spec.Params)
		if err != nil {
			return nil, fmt.Errorf("create strategy %s: %w", spec.ID, err)
		}
		strategies[i] = s
	}

	var mu sync.Mutex
	results := make(map[string]*BacktestResult, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range specs {
		spec, strategy := specs[i], strategies[i]
		g.Go(func() error {
			engine := NewBacktestEngine(strategy, spec.Config, p.logger, p.opts...)
			result, err := engine.Run(gctx, bars)
			if err != nil {
				return fmt.Errorf("backtest %s: %w", spec.ID, err)
			}
			mu.Lock()
			results[spec.ID] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Info("Parallel backtests finished",
		zap.Int("strategies", len(results)),
		zap.Int("workers", p.workers))
	return results, nil
}
