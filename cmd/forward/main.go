package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/config"
	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/infrastructure/exchange"
	"github.com/vitos/firebot/internal/infrastructure/feed"
	"github.com/vitos/firebot/internal/infrastructure/logger"
	"github.com/vitos/firebot/internal/infrastructure/metrics"
	"github.com/vitos/firebot/internal/infrastructure/storage"
	"github.com/vitos/firebot/internal/usecase"
	"github.com/vitos/firebot/internal/web"
)

const reconnectDelay = 5 * time.Second

// tradeLog writes every applied trade to the session trade log file.
type tradeLog struct {
	log *zap.Logger
}

func (t tradeLog) ObserveTrade(trade domain.Trade) {
	fields := []zap.Field{
		zap.Time("timestamp", trade.Timestamp),
		zap.String("strategy", trade.StrategyID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.Stringer("quantity", trade.Quantity),
		zap.Stringer("entry_price", trade.EntryPrice),
		zap.Stringer("pnl", trade.PnL),
	}
	if trade.ExitPrice != nil {
		fields = append(fields, zap.Stringer("exit_price", *trade.ExitPrice))
	}
	t.log.Info("Trade", fields...)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Forward.FeedURL == "" || len(cfg.Forward.Symbols) == 0 {
		log.Fatal("forward.feed_url and forward.symbols are required")
	}

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.App.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Strategy
	spec, err := forwardSpec(cfg)
	if err != nil {
		log.Fatal("No forward strategy", zap.Error(err))
	}
	strategy, err := usecase.NewDefaultRegistry().Create(spec.Type, spec.ID, spec.Params)
	if err != nil {
		log.Fatal("Failed to create strategy", zap.String("strategy", spec.ID), zap.Error(err))
	}

	// 5. Init Runner
	exporter := metrics.NewExporter()
	opts := []usecase.Option{
		usecase.WithTradeRepository(store),
		usecase.WithTradeObserver(exporter),
	}
	if cfg.Forward.TradeLog != "" {
		fileLog, err := logger.NewFileLogger(cfg.Forward.TradeLog, "info")
		if err != nil {
			log.Error("Failed to init trade log, continuing without it", zap.Error(err))
		} else {
			defer fileLog.Sync()
			opts = append(opts, usecase.WithTradeObserver(tradeLog{log: fileLog}))
		}
	}
	runner := usecase.NewForwardRunner(strategy, spec.Config, log, opts...)

	// 6. Start Server
	server := web.NewServer(cfg.Server.Port, runner, store, exporter.Handler(), log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("Shutting down...")
		cancel()
	}()

	// 7. Consume the feed, reconnecting until shutdown
	interval := cfg.Forward.Interval
	if interval == "" {
		if interval, err = exchange.Interval(cfg.Backtest.Resolution); err != nil {
			log.Fatal("No feed interval", zap.Error(err))
		}
	}
	barFeed := feed.NewWSBarFeed(cfg.Forward.FeedURL, cfg.Forward.Symbols, interval, cfg.Backtest.Resolution, log)
	onBar := func(ctx context.Context, bar domain.Bar) error {
		consumed, err := runner.OnBar(ctx, bar)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				log.Warn("Skipping bar", zap.String("symbol", bar.Symbol), zap.Error(err))
				return nil
			}
			return err
		}
		if consumed {
			exporter.UpdatePortfolio(runner.PortfolioSummary())
		}
		return nil
	}

	for ctx.Err() == nil {
		err := barFeed.Run(ctx, onBar)
		if ctx.Err() != nil {
			break
		}
		log.Error("Feed stopped, reconnecting", zap.Error(err), zap.Duration("delay", reconnectDelay))
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}

	state := runner.State()
	log.Info("Forward session finished",
		zap.Int("bars", state.BarCount),
		zap.Int("trades", state.NumTrades),
		zap.Stringer("portfolio_value", state.PortfolioValue))

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	server.Shutdown(shutdownCtx)
}

// forwardSpec picks forward.strategy, or the first enabled strategy.
func forwardSpec(cfg *config.Config) (usecase.StrategySpec, error) {
	specs := cfg.StrategySpecs()
	for _, spec := range specs {
		if cfg.Forward.Strategy == "" || spec.ID == cfg.Forward.Strategy {
			return spec, nil
		}
	}
	return usecase.StrategySpec{}, fmt.Errorf("%w: no enabled strategy for forward mode", domain.ErrNotFound)
}
