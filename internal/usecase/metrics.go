package usecase

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitos/firebot/internal/domain"
)

const (
	DefaultPeriodsPerYear = 252

	// Sortino is reported as this value when no period lost money.
	sortinoNoDownside = 100.0
)

// CalculateReturns converts an equity curve into simple period returns.
// Periods starting from zero equity are skipped.
func CalculateReturns(equity []decimal.Decimal) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].InexactFloat64()-prev)/prev)
	}
	return returns
}

// CalculateSharpeRatio returns the annualized Sharpe ratio using the population
// standard deviation. riskFreeRate is annual.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	mean := meanOf(returns)

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}

	excess := mean - riskFreeRate/float64(periodsPerYear)
	return excess / std * math.Sqrt(float64(periodsPerYear))
}

// CalculateSortinoRatio is the Sharpe ratio with downside deviation in the
// denominator. The downside variance is taken over all periods.
func CalculateSortinoRatio(returns []float64, riskFreeRate float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	mean := meanOf(returns)

	var downside float64
	var losses int
	for _, r := range returns {
		if r < 0 {
			downside += r * r
			losses++
		}
	}
	if losses == 0 {
		return sortinoNoDownside
	}
	std := math.Sqrt(downside / float64(len(returns)))
	if std == 0 {
		return sortinoNoDownside
	}

	excess := mean - riskFreeRate/float64(periodsPerYear)
	return excess / std * math.Sqrt(float64(periodsPerYear))
}

// CalculateMaxDrawdown returns the largest peak-to-trough decline as a fraction.
func CalculateMaxDrawdown(equity []decimal.Decimal) float64 {
	if len(equity) < 2 {
		return 0
	}
	peak := equity[0]
	maxDD := decimal.Zero
	for _, value := range equity {
		if value.GreaterThan(peak) {
			peak = value
		}
		if !peak.IsPositive() {
			continue
		}
		if dd := peak.Sub(value).Div(peak); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.InexactFloat64()
}

// CalculateWinRate is the share of closed trades with positive PnL.
func CalculateWinRate(trades []domain.Trade) float64 {
	var closed, wins int
	for _, t := range trades {
		if !t.IsClosed {
			continue
		}
		closed++
		if t.PnL.IsPositive() {
			wins++
		}
	}
	if closed == 0 {
		return 0
	}
	return float64(wins) / float64(closed)
}

// CalculateProfitFactor is gross profit over gross loss of closed trades.
// Without losses it is +Inf if anything was won, otherwise 0.
func CalculateProfitFactor(trades []domain.Trade) float64 {
	profit, loss := decimal.Zero, decimal.Zero
	for _, t := range trades {
		if !t.IsClosed {
			continue
		}
		if t.PnL.IsPositive() {
			profit = profit.Add(t.PnL)
		} else if t.PnL.IsNegative() {
			loss = loss.Add(t.PnL.Abs())
		}
	}
	if loss.IsZero() {
		if profit.IsPositive() {
			return math.Inf(1)
		}
		return 0
	}
	return profit.Div(loss).InexactFloat64()
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// MetricsReport is a printable performance summary.
type MetricsReport struct {
	StrategyID   string
	SharpeRatio  float64
	SortinoRatio float64
	MaxDrawdown  float64
	WinRate      float64
	ProfitFactor float64
	TotalTrades  int
	TotalPnL     decimal.Decimal
}

func NewMetricsReport(strategyID string, equity []decimal.Decimal, trades []domain.Trade, riskFreeRate float64, periodsPerYear int) MetricsReport {
	returns := CalculateReturns(equity)
	pnl := decimal.Zero
	for _, t := range trades {
		pnl = pnl.Add(t.PnL)
	}
	return MetricsReport{
		StrategyID:   strategyID,
		SharpeRatio:  CalculateSharpeRatio(returns, riskFreeRate, periodsPerYear),
		SortinoRatio: CalculateSortinoRatio(returns, riskFreeRate, periodsPerYear),
		MaxDrawdown:  CalculateMaxDrawdown(equity),
		WinRate:      CalculateWinRate(trades),
		ProfitFactor: CalculateProfitFactor(trades),
		TotalTrades:  len(trades),
		TotalPnL:     pnl,
	}
}

func (r MetricsReport) FormatReport() string {
	rule := strings.Repeat("=", 50)

	var b strings.Builder
	b.WriteString(rule + "\n")
	if r.StrategyID != "" {
		fmt.Fprintf(&b, "PERFORMANCE SUMMARY: %s\n", r.StrategyID)
	} else {
		b.WriteString("PERFORMANCE SUMMARY\n")
	}
	b.WriteString(rule + "\n\n")

	b.WriteString("Risk-Adjusted Returns:\n")
	fmt.Fprintf(&b, "  Sharpe Ratio:  %.2f\n", r.SharpeRatio)
	fmt.Fprintf(&b, "  Sortino Ratio: %.2f\n\n", r.SortinoRatio)

	b.WriteString("Risk Metrics:\n")
	fmt.Fprintf(&b, "  Max Drawdown:  %.2f%%\n\n", r.MaxDrawdown*100)

	b.WriteString("Trade Statistics:\n")
	fmt.Fprintf(&b, "  Total Trades:  %d\n", r.TotalTrades)
	fmt.Fprintf(&b, "  Win Rate:      %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "  Profit Factor: %.2f\n", r.ProfitFactor)
	fmt.Fprintf(&b, "  Total PnL:     $%s\n\n", r.TotalPnL.StringFixed(2))

	b.WriteString(rule)
	return b.String()
}
