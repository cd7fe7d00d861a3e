package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/vitos/firebot/internal/config"
	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/infrastructure/storage"
	"github.com/vitos/firebot/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	strategyID := flag.String("strategy", "", "report a single strategy")
	symbol := flag.String("symbol", "", "only trades in this symbol")
	runs := flag.Int("runs", 10, "latest backtest runs to list, 0 to skip")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.App.DBPath)
	if err != nil {
		fmt.Printf("Failed to open trade store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	strategies := []string{*strategyID}
	if *strategyID == "" {
		if strategies, err = store.ListStrategies(ctx); err != nil {
			fmt.Printf("Failed to list strategies: %v\n", err)
			os.Exit(1)
		}
	}
	if len(strategies) == 0 {
		fmt.Println("No trades recorded.")
	}

	initial := decimal.NewFromFloat(cfg.Portfolio.InitialCapital)
	for _, id := range strategies {
		events, err := store.ListTrades(ctx, domain.TradeFilter{StrategyID: id, Symbol: *symbol})
		if err != nil {
			fmt.Printf("Failed to list trades for %s: %v\n", id, err)
			continue
		}
		if len(events) == 0 {
			fmt.Printf("\n%s: no trades\n", id)
			continue
		}

		trades := make([]domain.Trade, len(events))
		for i, ev := range events {
			trades[i] = ev.Trade()
		}

		report := usecase.NewMetricsReport(id, realizedEquity(initial, trades), trades,
			cfg.Backtest.RiskFreeRate, cfg.Backtest.PeriodsPerYear)
		fmt.Printf("\nTrades %s .. %s\n", events[0].Timestamp.Format("2006-01-02"), events[len(events)-1].Timestamp.Format("2006-01-02"))
		fmt.Println(report.FormatReport())
	}

	if *runs > 0 {
		printRuns(ctx, store, *runs)
	}
}

// realizedEquity is capital plus cumulative realized PnL, one point per trade.
// Open positions are not marked, so ratios describe closed results only.
func realizedEquity(initial decimal.Decimal, trades []domain.Trade) []decimal.Decimal {
	curve := make([]decimal.Decimal, 0, len(trades)+1)
	curve = append(curve, initial)
	value := initial
	for _, t := range trades {
		if t.IsClosed {
			value = value.Add(t.PnL)
		}
		curve = append(curve, value)
	}
	return curve
}

func printRuns(ctx context.Context, store *storage.SQLiteStore, limit int) {
	records, err := store.ListRuns(ctx, limit)
	if err != nil {
		fmt.Printf("Failed to list runs: %v\n", err)
		return
	}
	if len(records) == 0 {
		return
	}

	fmt.Printf("\n%-20s %-10s %14s %8s %9s %9s %s\n", "STRATEGY", "SYMBOL", "FINAL VALUE", "TRADES", "RETURN", "SHARPE", "RUN AT")
	for _, r := range records {
		fmt.Printf("%-20s %-10s %14s %8d %8.2f%% %9.2f %s\n",
			r.StrategyID, r.Symbol, r.FinalValue.StringFixed(2), r.TotalTrades,
			r.TotalReturn*100, r.SharpeRatio, r.CreatedAt.Format("2006-01-02 15:04"))
	}
}
