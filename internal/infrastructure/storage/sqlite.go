package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/firebot/internal/domain"
)

// Timestamps are stored as fixed-width UTC text so range filters can compare strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the append-only trade ledger and run history.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// One writer at a time; parallel backtests share the store.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT,
			pnl TEXT NOT NULL,
			metadata TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, timestamp);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			initial_capital TEXT NOT NULL,
			final_value TEXT NOT NULL,
			total_trades INTEGER NOT NULL,
			sharpe_ratio REAL NOT NULL,
			max_drawdown REAL NOT NULL,
			total_return REAL NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.TradeEvent) error {
	var metadata sql.NullString
	if len(trade.Metadata) > 0 {
		raw, err := json.Marshal(trade.Metadata)
		if err != nil {
			return fmt.Errorf("encode trade metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := `INSERT INTO trades (timestamp, strategy_id, symbol, side, quantity, entry_price, exit_price, pnl, metadata)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		formatTime(trade.Timestamp), trade.StrategyID, trade.Symbol, string(trade.Side),
		trade.Quantity, trade.EntryPrice, trade.ExitPrice, trade.PnL, metadata)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	trade.ID = id
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.TradeEvent, error) {
	var where []string
	var args []interface{}
	if filter.StrategyID != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, filter.StrategyID)
	}
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if !filter.Start.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(filter.Start))
	}
	if !filter.End.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(filter.End))
	}

	query := `SELECT id, timestamp, strategy_id, symbol, side, quantity, entry_price, exit_price, pnl, metadata FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeEvent
	for rows.Next() {
		var t domain.TradeEvent
		var ts, side string
		var metadata sql.NullString
		if err := rows.Scan(&t.ID, &ts, &t.StrategyID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.PnL, &metadata); err != nil {
			return nil, err
		}
		if t.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("trade %d: bad timestamp %q: %w", t.ID, ts, err)
		}
		t.Side = domain.OrderSide(side)
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("trade %d: bad metadata: %w", t.ID, err)
			}
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "strategy_id")
}

func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "symbol")
}

// distinct only ever receives a fixed column name.
func (s *SQLiteStore) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM trades ORDER BY %s", column, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *SQLiteStore) CountTrades(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades").Scan(&n)
	return n, err
}

// RunRecord storage

func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.RunRecord) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO runs (strategy_id, symbol, initial_capital, final_value, total_trades, sharpe_ratio, max_drawdown, total_return, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		run.StrategyID, run.Symbol, run.InitialCapital, run.FinalValue, run.TotalTrades,
		run.SharpeRatio, run.MaxDrawdown, run.TotalReturn, formatTime(run.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

// ListRuns returns the newest runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	query := `SELECT id, strategy_id, symbol, initial_capital, final_value, total_trades, sharpe_ratio, max_drawdown, total_return, created_at
			  FROM runs ORDER BY created_at DESC, id DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		var r domain.RunRecord
		var created string
		if err := rows.Scan(&r.ID, &r.StrategyID, &r.Symbol, &r.InitialCapital, &r.FinalValue, &r.TotalTrades, &r.SharpeRatio, &r.MaxDrawdown, &r.TotalReturn, &created); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("run %d: bad created_at %q: %w", r.ID, created, err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
