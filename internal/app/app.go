// Package app wires configuration, data collectors, strategies, the
// backtest engine and report output into a single run.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/atlas-bt/internal/backtest"
	"github.com/newthinker/atlas-bt/internal/collector"
	"github.com/newthinker/atlas-bt/internal/collector/csvfile"
	"github.com/newthinker/atlas-bt/internal/collector/eastmoney"
	"github.com/newthinker/atlas-bt/internal/config"
	"github.com/newthinker/atlas-bt/internal/market"
	"github.com/newthinker/atlas-bt/internal/metrics"
	"github.com/newthinker/atlas-bt/internal/report"
	"github.com/newthinker/atlas-bt/internal/storage/archive"
	"github.com/newthinker/atlas-bt/internal/strategy"
	"github.com/newthinker/atlas-bt/internal/strategy/ma_crossover"
	"github.com/newthinker/atlas-bt/internal/strategy/momentum"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StrategyInfo describes a registered strategy
type StrategyInfo struct {
	Name        string
	Description string
}

// Outcome is what a run produced. Result is set whenever the simulation
// started, even if it then failed or was cancelled.
type Outcome struct {
	Result *backtest.Result
	Files  []string
}

// App is the main application orchestrator
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	collectors *collector.Registry
	strategies *strategy.Registry
	metrics    *metrics.Registry
}

// New creates a new App instance with no collectors or strategies
func New(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		collectors: collector.NewRegistry(),
		strategies: strategy.NewRegistry(logger),
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewRegistry()
	}
	return a
}

// RegisterBuiltins adds the bundled collectors and strategies
func (a *App) RegisterBuiltins() {
	a.RegisterCollector(eastmoney.New())
	a.RegisterCollector(csvfile.New(""))

	a.RegisterStrategy("momentum", func() strategy.Strategy {
		return momentum.New(nil, 60, 3)
	})
	a.RegisterStrategy("ma_crossover", func() strategy.Strategy {
		return ma_crossover.New("", 5, 20)
	})
}

// RegisterCollector adds a collector to the app
func (a *App) RegisterCollector(c collector.Collector) {
	a.collectors.Register(c)
}

// RegisterStrategy adds a strategy factory to the app
func (a *App) RegisterStrategy(name string, f strategy.Factory) {
	a.strategies.Register(name, f)
}

// Strategies lists registered strategies in name order
func (a *App) Strategies() []StrategyInfo {
	names := a.strategies.Names()
	out := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		desc, _ := a.strategies.Describe(name)
		out = append(out, StrategyInfo{Name: name, Description: desc})
	}
	return out
}

// Metrics returns the metrics registry, nil when metrics are disabled
func (a *App) Metrics() *metrics.Registry {
	return a.metrics
}

// Run executes one backtest as configured: it loads price history, runs
// the strategy and publishes the report. When the simulation stops early
// the partial report is still published and the run error is returned.
func (a *App) Run(ctx context.Context) (*Outcome, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	start, end, _ := a.cfg.Backtest.Period()

	strat, err := a.strategies.New(a.cfg.Strategy.Name, strategy.Config{Params: a.cfg.Strategy.Params})
	if err != nil {
		return nil, err
	}

	source, err := a.collectors.Open(a.cfg.Data.Source, collector.Config{
		BaseURL: a.cfg.Data.Eastmoney.BaseURL,
		Timeout: a.cfg.Data.Eastmoney.Timeout,
		Dir:     a.cfg.Data.CSVDir,
	})
	if err != nil {
		return nil, err
	}

	req := strat.RequiredData()
	lookback := max(a.cfg.Backtest.Lookback, req.PriceHistory)
	// about two calendar days per trading day of history
	warmup := max(a.cfg.Data.WarmupDays, 2*lookback)
	symbols := append([]string{a.cfg.Backtest.IndexSymbol}, req.Symbols...)

	a.logger.Info("loading price data",
		zap.String("source", source.Name()),
		zap.Int("symbols", len(symbols)),
		zap.Time("from", start.AddDate(0, 0, -warmup)),
		zap.Time("to", end),
	)
	data, err := market.Load(ctx, source, symbols, start.AddDate(0, 0, -warmup), end, market.LoadOptions{
		Concurrency: a.cfg.Data.Concurrency,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}

	bt, err := backtest.New(backtest.Config{
		Start:          start,
		End:            end,
		IndexSymbol:    a.cfg.Backtest.IndexSymbol,
		InitialCapital: decimal.NewFromFloat(a.cfg.Backtest.InitialCapital),
		Lookback:       a.cfg.Backtest.Lookback,
	}, data, strat, backtest.WithLogger(a.logger), backtest.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	result, runErr := bt.Run(ctx)
	outcome := &Outcome{Result: result}

	// Publish even after a cancel so the partial curve is kept.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	files, pubErr := a.publish(pubCtx, result)
	outcome.Files = files

	return outcome, errors.Join(runErr, pubErr)
}

// OpenOutput opens the configured report backend.
func (a *App) OpenOutput() (archive.Storage, error) {
	store, err := archive.Open(archive.Config{
		Type: a.cfg.Output.Type,
		Path: a.cfg.Output.Path,
		S3: archive.S3Config{
			Bucket:    a.cfg.Output.S3.Bucket,
			Endpoint:  a.cfg.Output.S3.Endpoint,
			Region:    a.cfg.Output.S3.Region,
			AccessKey: a.cfg.Output.S3.AccessKey,
			SecretKey: a.cfg.Output.S3.SecretKey,
			Prefix:    a.cfg.Output.S3.Prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	return store, nil
}

// Runs lists published run directories, optionally for one strategy.
func (a *App) Runs(ctx context.Context, strategy string) ([]string, error) {
	store, err := a.OpenOutput()
	if err != nil {
		return nil, err
	}
	return report.Runs(ctx, store, strategy)
}

// RunSummary returns the summary published for a run directory.
func (a *App) RunSummary(ctx context.Context, dir string) ([]byte, error) {
	store, err := a.OpenOutput()
	if err != nil {
		return nil, err
	}
	return report.ReadSummary(ctx, store, dir)
}

func (a *App) publish(ctx context.Context, result *backtest.Result) ([]string, error) {
	store, err := a.OpenOutput()
	if err != nil {
		return nil, err
	}

	files, err := report.Publish(ctx, store, result, a.logger)
	if err != nil {
		return files, err
	}

	if a.metrics != nil && a.cfg.Metrics.Textfile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			return files, fmt.Errorf("writing metrics: %w", err)
		}
		files = append(files, a.cfg.Metrics.Textfile)
	}
	return files, nil
}
