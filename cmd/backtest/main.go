package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/config"
	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/infrastructure/datasource"
	"github.com/vitos/firebot/internal/infrastructure/exchange"
	"github.com/vitos/firebot/internal/infrastructure/logger"
	"github.com/vitos/firebot/internal/infrastructure/metrics"
	"github.com/vitos/firebot/internal/infrastructure/storage"
	"github.com/vitos/firebot/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	only := flag.String("symbol", "", "run a single symbol instead of every configured one")
	metricsFile := flag.String("metrics-file", "", "write final metrics in Prometheus textfile format")
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

	if len(cfg.DataSources) == 0 {
		log.Fatal("No data sources configured")
	}
	specs := cfg.StrategySpecs()
	if len(specs) == 0 {
		log.Fatal("No enabled strategies configured")
	}

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.App.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	exporter := metrics.NewExporter()

	// 4. Init Runner
	runner := usecase.NewParallelRunner(usecase.NewDefaultRegistry(), cfg.Backtest.Workers, log,
		usecase.WithTradeRepository(store),
		usecase.WithTradeObserver(exporter))
	for _, spec := range specs {
		if err := runner.Register(spec); err != nil {
			log.Fatal("Failed to register strategy", zap.String("strategy", spec.ID), zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("Interrupted, cancelling backtests")
		cancel()
	}()

	start, end, err := cfg.BacktestRange()
	if err != nil {
		log.Fatal("Bad backtest range", zap.Error(err))
	}

	// 5. Run every symbol of every source
	for _, ds := range cfg.DataSources {
		source, err := openSource(ds, log)
		if err != nil {
			log.Fatal("Failed to open data source", zap.String("type", ds.Type), zap.Error(err))
		}

		symbols := ds.Symbols
		if len(symbols) == 0 {
			if symbols, err = source.Symbols(); err != nil {
				log.Fatal("Failed to list symbols", zap.Error(err))
			}
		}

		for _, symbol := range symbols {
			if *only != "" && symbol != *only {
				continue
			}
			bars, err := source.GetHistorical(ctx, symbol, start, end, cfg.Backtest.Resolution)
			if err != nil {
				log.Error("Failed to load bars", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			if len(bars) == 0 {
				log.Warn("No bars in range", zap.String("symbol", symbol))
				continue
			}

			results, err := runner.RunBacktests(ctx, bars)
			if err != nil {
				log.Fatal("Backtest failed", zap.String("symbol", symbol), zap.Error(err))
			}
			report(ctx, log, store, exporter, cfg, symbol, results)
		}
	}

	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, exporter.Registry()); err != nil {
			log.Error("Failed to write metrics file", zap.Error(err))
		}
	}
}

func openSource(ds config.DataSourceConfig, log *zap.Logger) (domain.DataSource, error) {
	if ds.Type == "bybit" {
		return exchange.NewBybitKlineSource(ds.BaseURL, ds.Category, ds.Symbols, log), nil
	}
	return datasource.NewCSVSource(ds.Path, log)
}

func report(
	ctx context.Context,
	log *zap.Logger,
	store *storage.SQLiteStore,
	exporter *metrics.Exporter,
	cfg *config.Config,
	symbol string,
	results map[string]*usecase.BacktestResult,
) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now().UTC()
	for _, id := range ids {
		result := results[id]
		exporter.UpdatePortfolio(result.Summary)
		exporter.UpdatePerformance(id, result.Metrics)

		if err := store.SaveRun(ctx, result.RunRecord(symbol, now)); err != nil {
			log.Error("Failed to save run", zap.String("strategy", id), zap.Error(err))
		}

		fmt.Printf("\n%s  [%s]\n", symbol, id)
		fmt.Println(result.Report(cfg.Backtest.RiskFreeRate, cfg.Backtest.PeriodsPerYear).FormatReport())
		fmt.Printf("  Final Value:   $%s (%+.2f%%)\n", result.FinalValue.StringFixed(2), result.Metrics.TotalReturn*100)
	}
}
