package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

var header = []string{"timestamp", "open", "high", "low", "close", "volume"}

// Accepted timestamp layouts. Values without a zone are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CSVSource reads <dir>/<SYMBOL>.csv files with a
// timestamp,open,high,low,close,volume header.
type CSVSource struct {
	dir    string
	logger *zap.Logger
}

func NewCSVSource(dir string, logger *zap.Logger) (*CSVSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("data directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidConfig, dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSource{dir: dir, logger: logger}, nil
}

// GetHistorical returns bars for symbol within [start, end], sorted by time.
// A zero start or end leaves that side open.
func (c *CSVSource) GetHistorical(ctx context.Context, symbol string, start, end time.Time, resolution string) ([]domain.Bar, error) {
	path := filepath.Join(c.dir, symbol+".csv")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no data file for symbol %s", domain.ErrNotFound, symbol)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	columns, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	index, err := columnIndex(columns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}

		bar, err := parseRecord(record, index, symbol, resolution)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if !start.IsZero() && bar.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Timestamp.After(end) {
			continue
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	c.logger.Debug("Loaded bars", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	return bars, nil
}

// Symbols lists the available symbols, one per CSV file, sorted.
func (c *CSVSource) Symbols() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// WriteBars writes bars in the format GetHistorical reads.
func WriteBars(w io.Writer, bars []domain.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range bars {
		record := []string{
			b.Timestamp.UTC().Format(time.RFC3339Nano),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func columnIndex(columns []string) (map[string]int, error) {
	index := make(map[string]int, len(columns))
	for i, name := range columns {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range header {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrInvalidInput, name)
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int, symbol, resolution string) (domain.Bar, error) {
	ts, err := parseTime(record[index["timestamp"]])
	if err != nil {
		return domain.Bar{}, err
	}

	values := make([]decimal.Decimal, 0, 5)
	for _, name := range header[1:] {
		v, err := decimal.NewFromString(strings.TrimSpace(record[index[name]]))
		if err != nil {
			return domain.Bar{}, fmt.Errorf("%w: bad %s value %q", domain.ErrInvalidInput, name, record[index[name]])
		}
		values = append(values, v)
	}

	return domain.Bar{
		Timestamp:  ts,
		Symbol:     symbol,
		Open:       values[0],
		High:       values[1],
		Low:        values[2],
		Close:      values[3],
		Volume:     values[4],
		Resolution: resolution,
	}, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrInvalidInput, raw)
}
