package datasource_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/infrastructure/datasource"
)

const aaplCSV = `timestamp,open,high,low,close,volume
2024-01-03,101,103,100,102.5,1200
2024-01-02 00:00:00,100,102,99,101,1000
2024-01-04T00:00:00Z,102.5,104,101,103,900
1704412800,103,105,102,104,1100
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCSVSource_GetHistorical(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AAPL.csv", aaplCSV)

	src, err := datasource.NewCSVSource(dir, zap.NewNop())
	require.NoError(t, err)

	bars, err := src.GetHistorical(context.Background(), "AAPL", time.Time{}, time.Time{}, "1d")
	require.NoError(t, err)
	require.Len(t, bars, 4)

	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	for i, bar := range bars {
		assert.Equal(t, day(i+2), bar.Timestamp, "bars are sorted")
		assert.Equal(t, "AAPL", bar.Symbol)
		assert.Equal(t, "1d", bar.Resolution)
	}
	assert.Equal(t, "102.5", bars[1].Close.String())
	assert.Equal(t, "1200", bars[1].Volume.String())

	// Range is inclusive on both ends.
	ranged, err := src.GetHistorical(context.Background(), "AAPL", day(3), day(4), "1d")
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, day(3), ranged[0].Timestamp)
	assert.Equal(t, day(4), ranged[1].Timestamp)
}

func TestCSVSource_Errors(t *testing.T) {
	_, err := datasource.NewCSVSource(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, dir, "BAD.csv", "timestamp,open,high,low,close,volume\nyesterday,1,1,1,1,1\n")
	writeFile(t, dir, "NOCOL.csv", "timestamp,open,close\n2024-01-01,1,1\n")

	src, err := datasource.NewCSVSource(dir, nil)
	require.NoError(t, err)

	_, err = src.GetHistorical(context.Background(), "TSLA", time.Time{}, time.Time{}, "1d")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = src.GetHistorical(context.Background(), "BAD", time.Time{}, time.Time{}, "1d")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = src.GetHistorical(context.Background(), "NOCOL", time.Time{}, time.Time{}, "1d")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCSVSource_SymbolsAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "MSFT.csv", aaplCSV)
	writeFile(t, dir, "AAPL.csv", aaplCSV)
	writeFile(t, dir, "notes.txt", "ignore me")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.csv"), 0o755))

	src, err := datasource.NewCSVSource(dir, nil)
	require.NoError(t, err)

	symbols, err := src.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)

	bars, err := src.GetHistorical(context.Background(), "AAPL", time.Time{}, time.Time{}, "1d")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, datasource.WriteBars(&buf, bars))
	writeFile(t, dir, "COPY.csv", buf.String())

	copied, err := src.GetHistorical(context.Background(), "COPY", time.Time{}, time.Time{}, "1d")
	require.NoError(t, err)
	require.Len(t, copied, len(bars))
	for i := range bars {
		assert.Equal(t, bars[i].Timestamp, copied[i].Timestamp)
		assert.True(t, bars[i].Close.Equal(copied[i].Close))
	}
}
