package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/usecase"
)

const namespace = "firebot"

// Exporter publishes portfolio and performance gauges per strategy on its own
// registry, so several exporters never collide in one process or test.
type Exporter struct {
	registry *prometheus.Registry

	portfolioValue *prometheus.GaugeVec
	cash           *prometheus.GaugeVec
	drawdown       *prometheus.GaugeVec
	highWaterMark  *prometheus.GaugeVec
	positions      *prometheus.GaugeVec
	sharpe         *prometheus.GaugeVec
	sortino        *prometheus.GaugeVec
	winRate        *prometheus.GaugeVec
	profitFactor   *prometheus.GaugeVec
	trades         *prometheus.CounterVec
	tradePnL       *prometheus.HistogramVec
}

func NewExporter() *Exporter {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"strategy"})
	}

	e := &Exporter{
		registry:       prometheus.NewRegistry(),
		portfolioValue: gauge("portfolio_value", "Total portfolio value (cash plus marked positions)."),
		cash:           gauge("portfolio_cash", "Uninvested cash."),
		drawdown:       gauge("portfolio_drawdown", "Fractional drawdown from the high-water mark."),
		highWaterMark:  gauge("portfolio_high_water_mark", "Highest observed portfolio value."),
		positions:      gauge("portfolio_positions", "Number of open positions."),
		sharpe:         gauge("sharpe_ratio", "Annualized Sharpe ratio of the equity curve."),
		sortino:        gauge("sortino_ratio", "Annualized Sortino ratio of the equity curve."),
		winRate:        gauge("win_rate", "Fraction of closed trades with positive PnL."),
		profitFactor:   gauge("profit_factor", "Gross profit over gross loss of closed trades."),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades applied to the portfolio.",
		}, []string{"strategy", "side"}),
		tradePnL: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_pnl",
			Help:      "Realized PnL of closed trades.",
			Buckets:   []float64{-1000, -100, -10, 0, 10, 100, 1000},
		}, []string{"strategy"}),
	}

	e.registry.MustRegister(
		e.portfolioValue, e.cash, e.drawdown, e.highWaterMark, e.positions,
		e.sharpe, e.sortino, e.winRate, e.profitFactor,
		e.trades, e.tradePnL,
	)
	return e
}

// ObserveTrade satisfies usecase.TradeObserver.
func (e *Exporter) ObserveTrade(trade domain.Trade) {
	e.trades.WithLabelValues(trade.StrategyID, string(trade.Side)).Inc()
	if trade.IsClosed {
		e.tradePnL.WithLabelValues(trade.StrategyID).Observe(trade.PnL.InexactFloat64())
	}
}

func (e *Exporter) UpdatePortfolio(s usecase.PortfolioSummary) {
	e.portfolioValue.WithLabelValues(s.StrategyID).Set(s.TotalValue)
	e.cash.WithLabelValues(s.StrategyID).Set(s.Cash)
	e.drawdown.WithLabelValues(s.StrategyID).Set(s.Drawdown)
	e.highWaterMark.WithLabelValues(s.StrategyID).Set(s.HighWaterMark)
	e.positions.WithLabelValues(s.StrategyID).Set(float64(s.NumPositions))
}

func (e *Exporter) UpdatePerformance(strategyID string, m usecase.BacktestMetrics) {
	e.sharpe.WithLabelValues(strategyID).Set(m.SharpeRatio)
	e.sortino.WithLabelValues(strategyID).Set(m.SortinoRatio)
	e.winRate.WithLabelValues(strategyID).Set(m.WinRate)
	e.profitFactor.WithLabelValues(strategyID).Set(m.ProfitFactor)
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
