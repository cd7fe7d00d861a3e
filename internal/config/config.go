package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/usecase"
)

// Environment overrides, applied after the YAML file.
const (
	EnvLogLevel   = "FIREBOT_LOG_LEVEL"
	EnvDBPath     = "FIREBOT_DB_PATH"
	EnvFeedURL    = "FIREBOT_FEED_URL"
	EnvServerPort = "FIREBOT_SERVER_PORT"
	EnvDataDir    = "FIREBOT_DATA_DIR"
)

type Config struct {
	App         AppConfig          `yaml:"app"`
	DataSources []DataSourceConfig `yaml:"data_sources"`
	Strategies  []StrategyConfig   `yaml:"strategies"`
	Risk        RiskConfig         `yaml:"risk"`
	Portfolio   PortfolioConfig    `yaml:"portfolio"`
	Execution   ExecutionConfig    `yaml:"execution"`
	Backtest    BacktestConfig     `yaml:"backtest"`
	Forward     ForwardConfig      `yaml:"forward"`
	Server      ServerConfig       `yaml:"server"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	DBPath   string `yaml:"db_path"`
}

type DataSourceConfig struct {
	Type     string   `yaml:"type"` // "csv" or "bybit"
	Path     string   `yaml:"path"` // csv directory, defaults to app.data_dir
	BaseURL  string   `yaml:"base_url"`
	Category string   `yaml:"category"` // bybit market category
	Symbols  []string `yaml:"symbols"`
}

type StrategyConfig struct {
	Name    string                 `yaml:"name"`
	Class   string                 `yaml:"class"`
	Enabled *bool                  `yaml:"enabled"`
	Params  map[string]interface{} `yaml:"params"`
}

func (s StrategyConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RiskConfig percentages are expressed in percent (5 means 5%).
type RiskConfig struct {
	MaxPositionSizePct  float64 `yaml:"max_position_size_pct"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
	AutoDisableOnBreach bool    `yaml:"auto_disable_on_breach"`
}

type PortfolioConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	Currency       string  `yaml:"currency"`
}

type ExecutionConfig struct {
	FillModel          string  `yaml:"fill_model"`
	SlippageBps        float64 `yaml:"slippage_bps"`
	CommissionPerTrade float64 `yaml:"commission_per_trade"`
	PriceIncrement     float64 `yaml:"price_increment"`
	PositionSizePct    float64 `yaml:"position_size_pct"` // fraction of cash per signal
}

type BacktestConfig struct {
	Start          string  `yaml:"start"` // YYYY-MM-DD, empty for open
	End            string  `yaml:"end"`
	Resolution     string  `yaml:"resolution"`
	Workers        int     `yaml:"workers"`
	FeatureWindow  int     `yaml:"feature_window"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	PeriodsPerYear int     `yaml:"periods_per_year"`
}

type ForwardConfig struct {
	FeedURL  string   `yaml:"feed_url"`
	Interval string   `yaml:"interval"` // derived from backtest.resolution when empty
	Symbols  []string `yaml:"symbols"`
	Strategy string   `yaml:"strategy"` // name from strategies, first enabled when empty
	TradeLog string   `yaml:"trade_log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads path, applies defaults and FIREBOT_* overrides (a .env file in
// the working directory is honoured) and validates the result.
func Load(path string) (*Config, error) {
	// Ignore error so we still start when .env is missing.
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "FireBot"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "./data"
	}
	if c.App.DBPath == "" {
		c.App.DBPath = "firebot.db"
	}
	if c.Risk.MaxPositionSizePct == 0 {
		c.Risk.MaxPositionSizePct = 5
	}
	if c.Risk.MaxDrawdownPct == 0 {
		c.Risk.MaxDrawdownPct = 10
	}
	if c.Portfolio.InitialCapital == 0 {
		c.Portfolio.InitialCapital = 100000
	}
	if c.Portfolio.Currency == "" {
		c.Portfolio.Currency = "USD"
	}
	if c.Execution.FillModel == "" {
		c.Execution.FillModel = usecase.FillModelInstant
	}
	if c.Execution.PriceIncrement == 0 {
		c.Execution.PriceIncrement = 0.01
	}
	if c.Execution.PositionSizePct == 0 {
		c.Execution.PositionSizePct = 0.1
	}
	if c.Backtest.Resolution == "" {
		c.Backtest.Resolution = "1d"
	}
	if c.Backtest.Workers == 0 {
		c.Backtest.Workers = 4
	}
	if c.Backtest.FeatureWindow == 0 {
		c.Backtest.FeatureWindow = 50
	}
	if c.Backtest.PeriodsPerYear == 0 {
		c.Backtest.PeriodsPerYear = usecase.DefaultPeriodsPerYear
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	for i := range c.DataSources {
		if c.DataSources[i].Type == "csv" && c.DataSources[i].Path == "" {
			c.DataSources[i].Path = c.App.DataDir
		}
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.App.DBPath = v
	}
	if v := os.Getenv(EnvFeedURL); v != "" {
		c.Forward.FeedURL = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.App.DataDir = v
		for i := range c.DataSources {
			if c.DataSources[i].Type == "csv" {
				c.DataSources[i].Path = v
			}
		}
	}
	if v := os.Getenv(EnvServerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", domain.ErrInvalidConfig, EnvServerPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: "+format, append([]interface{}{domain.ErrInvalidConfig}, args...)...)
	}

	if c.Execution.FillModel != usecase.FillModelInstant {
		return invalid("unknown fill model %q", c.Execution.FillModel)
	}
	if c.Portfolio.InitialCapital <= 0 {
		return invalid("initial capital must be positive, got %v", c.Portfolio.InitialCapital)
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 100 {
		return invalid("max_position_size_pct %v outside (0, 100]", c.Risk.MaxPositionSizePct)
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		return invalid("max_drawdown_pct %v outside (0, 100]", c.Risk.MaxDrawdownPct)
	}
	if c.Execution.PositionSizePct <= 0 || c.Execution.PositionSizePct > 1 {
		return invalid("position_size_pct %v outside (0, 1]", c.Execution.PositionSizePct)
	}
	if c.Execution.SlippageBps < 0 || c.Execution.CommissionPerTrade < 0 || c.Execution.PriceIncrement < 0 {
		return invalid("negative execution cost")
	}
	if c.Backtest.Workers < 0 {
		return invalid("backtest workers %d", c.Backtest.Workers)
	}
	if _, _, err := c.BacktestRange(); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server port %d", c.Server.Port)
	}
	for _, ds := range c.DataSources {
		if ds.Type != "csv" && ds.Type != "bybit" {
			return invalid("unsupported data source type %q", ds.Type)
		}
	}

	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.Name == "" || s.Class == "" {
			return invalid("strategy needs name and class")
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: strategy %q", domain.ErrDuplicate, s.Name)
		}
		seen[s.Name] = true
	}
	if c.Forward.Strategy != "" && !seen[c.Forward.Strategy] {
		return invalid("forward strategy %q is not configured", c.Forward.Strategy)
	}
	return nil
}

// BacktestRange parses backtest.start and backtest.end. Zero means open.
func (c *Config) BacktestRange() (time.Time, time.Time, error) {
	var bounds [2]time.Time
	for i, raw := range []string{c.Backtest.Start, c.Backtest.End} {
		if raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad backtest date %q", domain.ErrInvalidConfig, raw)
		}
		bounds[i] = t
	}
	// The end date is inclusive of the whole day.
	if !bounds[1].IsZero() {
		bounds[1] = bounds[1].Add(24*time.Hour - time.Nanosecond)
	}
	if !bounds[0].IsZero() && !bounds[1].IsZero() && bounds[1].Before(bounds[0]) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: backtest end before start", domain.ErrInvalidConfig)
	}
	return bounds[0], bounds[1], nil
}

// RunConfig converts the portfolio, risk, execution and backtest sections
// into the settings of one simulated run.
func (c *Config) RunConfig() usecase.RunConfig {
	hundred := decimal.NewFromInt(100)
	return usecase.RunConfig{
		InitialCapital:       decimal.NewFromFloat(c.Portfolio.InitialCapital),
		PositionSizePct:      decimal.NewFromFloat(c.Execution.PositionSizePct),
		SlippageBps:          decimal.NewFromFloat(c.Execution.SlippageBps),
		CommissionPerTrade:   decimal.NewFromFloat(c.Execution.CommissionPerTrade),
		PriceIncrement:       decimal.NewFromFloat(c.Execution.PriceIncrement),
		MaxDrawdownPct:       decimal.NewFromFloat(c.Risk.MaxDrawdownPct).Div(hundred),
		MaxPositionSizePct:   decimal.NewFromFloat(c.Risk.MaxPositionSizePct).Div(hundred),
		FeatureWindow:        c.Backtest.FeatureWindow,
		RiskFreeRate:         c.Backtest.RiskFreeRate,
		PeriodsPerYear:       c.Backtest.PeriodsPerYear,
		HaltOnDrawdownBreach: c.Risk.AutoDisableOnBreach,
	}
}

// StrategySpecs returns the enabled strategies, in file order.
func (c *Config) StrategySpecs() []usecase.StrategySpec {
	run := c.RunConfig()
	var specs []usecase.StrategySpec
	for _, s := range c.Strategies {
		if !s.IsEnabled() {
			continue
		}
		specs = append(specs, usecase.StrategySpec{ID: s.Name, Type: s.Class, Params: s.Params, Config: run})
	}
	return specs
}

// Symbols is the union of data source symbols, in first-seen order.
func (c *Config) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ds := range c.DataSources {
		for _, s := range ds.Symbols {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
