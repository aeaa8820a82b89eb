package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/atlas-bt/internal/backtest"
	"github.com/newthinker/atlas-bt/internal/config"
	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBars writes n daily bars starting 2024-01-02 whose price moves by
// step each day.
func writeBars(t *testing.T, dir, symbol string, n int, base, step float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		px := base + step*float64(i)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,1000\n", day.AddDate(0, 0, i).Format("2006-01-02"), px, px, px, px)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o644))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	writeBars(t, dataDir, "sh000001", 30, 3000, 1)
	writeBars(t, dataDir, "600519", 30, 100, 1)
	writeBars(t, dataDir, "000858", 30, 100, -1)

	cfg := config.Defaults()
	cfg.Data.Source = "csv"
	cfg.Data.CSVDir = dataDir
	cfg.Backtest.Start = "2024-01-10"
	cfg.Backtest.End = "2024-01-31"
	cfg.Backtest.Lookback = 10
	cfg.Strategy.Name = "momentum"
	cfg.Strategy.Params = map[string]any{
		"lookback":  3,
		"top_n":     1,
		"watchlist": []any{"600519", "000858"},
	}
	cfg.Output.Path = t.TempDir()
	return cfg
}

func TestApp_Strategies(t *testing.T) {
	a := New(config.Defaults(), nil)
	a.RegisterBuiltins()

	infos := a.Strategies()
	require.Len(t, infos, 2)
	assert.Equal(t, "ma_crossover", infos[0].Name)
	assert.Equal(t, "momentum", infos[1].Name)
	assert.NotEmpty(t, infos[1].Description)
}

func TestApp_Run(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "atlasbt.prom")

	a := New(cfg, nil)
	a.RegisterBuiltins()

	out, err := a.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Result)

	r := out.Result
	assert.Equal(t, backtest.StateCompleted, r.State)
	// 2024-01-10 .. 2024-01-31 is 22 calendar dates, one point per date but the last
	assert.Equal(t, 21, r.Curve.Len())
	assert.True(t, r.Final.Holds("600519"))
	assert.False(t, r.Final.Holds("000858"))
	assert.NotEmpty(t, r.Trades)

	// equity, decisions, trades, rejections, summary and the metrics textfile
	require.Len(t, out.Files, 6)
	for _, f := range out.Files {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}

	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "atlasbt_days_simulated_total 21")

	runs, err := a.Runs(context.Background(), "momentum")
	require.NoError(t, err)
	assert.Equal(t, []string{"momentum/" + r.RunID}, runs)

	summary, err := a.RunSummary(context.Background(), runs[0])
	require.NoError(t, err)
	assert.Contains(t, string(summary), r.RunID)
}

func TestApp_RunInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backtest.Start = ""

	a := New(cfg, nil)
	a.RegisterBuiltins()

	_, err := a.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestApp_RunUnknownStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Name = "pairs"

	a := New(cfg, nil)
	a.RegisterBuiltins()

	_, err := a.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestApp_RunMissingSymbol(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Params["watchlist"] = []any{"600519", "601318"}

	a := New(cfg, nil)
	a.RegisterBuiltins()

	_, err := a.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrCollectorFailed))
}

func TestApp_RunEmptyCalendar(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backtest.Start = "2024-02-05"
	cfg.Backtest.End = "2024-02-28"

	a := New(cfg, nil)
	a.RegisterBuiltins()

	_, err := a.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrEmptyCalendar))
}
