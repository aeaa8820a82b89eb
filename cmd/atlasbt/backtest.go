package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/newthinker/atlas-bt/internal/app"
	"github.com/newthinker/atlas-bt/internal/config"
	"github.com/newthinker/atlas-bt/internal/logger"
	"github.com/newthinker/atlas-bt/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	backtestFrom      string
	backtestTo        string
	backtestIndex     string
	backtestCapital   float64
	backtestLookback  int
	backtestTopN      int
	backtestWatchlist []string
	backtestSource    string
	backtestCSVDir    string
	backtestOut       string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest [strategy]",
	Short: "Run backtest on a strategy",
	Long: `Run a strategy against historical data and show performance statistics.
Flags override the matching config file values.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBacktest,
}

func init() {
	bindBacktestFlags(backtestCmd.Flags())
	rootCmd.AddCommand(backtestCmd)
}

func bindBacktestFlags(f *pflag.FlagSet) {
	f.StringVar(&backtestFrom, "from", "", "Start date YYYY-MM-DD")
	f.StringVar(&backtestTo, "to", "", "End date YYYY-MM-DD")
	f.StringVar(&backtestIndex, "index", "", "Index symbol driving the trading calendar")
	f.Float64Var(&backtestCapital, "capital", 0, "Initial capital")
	f.IntVar(&backtestLookback, "lookback", 0, "History window in trading days")
	f.IntVar(&backtestTopN, "top-n", 0, "Momentum: number of symbols to hold")
	f.StringSliceVar(&backtestWatchlist, "watchlist", nil, "Momentum: candidate symbols")
	f.StringVar(&backtestSource, "source", "", "Data source (eastmoney or csv)")
	f.StringVar(&backtestCSVDir, "csv-dir", "", "Directory of <symbol>.csv files for the csv source")
	f.StringVar(&backtestOut, "out", "", "Output directory for the local report")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, args []string, cfg *config.Config) {
	if len(args) == 1 {
		cfg.Strategy.Name = args[0]
	}

	f := cmd.Flags()
	if f.Changed("from") {
		cfg.Backtest.Start = backtestFrom
	}
	if f.Changed("to") {
		cfg.Backtest.End = backtestTo
	}
	if f.Changed("index") {
		cfg.Backtest.IndexSymbol = backtestIndex
	}
	if f.Changed("capital") {
		cfg.Backtest.InitialCapital = backtestCapital
	}
	if f.Changed("source") {
		cfg.Data.Source = backtestSource
	}
	if f.Changed("csv-dir") {
		cfg.Data.CSVDir = backtestCSVDir
	}
	if f.Changed("out") {
		cfg.Output.Type = "localfs"
		cfg.Output.Path = backtestOut
	}

	setParam := func(key string, v any) {
		if cfg.Strategy.Params == nil {
			cfg.Strategy.Params = map[string]any{}
		}
		cfg.Strategy.Params[key] = v
	}
	if f.Changed("lookback") {
		cfg.Backtest.Lookback = backtestLookback
		setParam("lookback", backtestLookback)
	}
	if f.Changed("top-n") {
		setParam("top_n", backtestTopN)
	}
	if f.Changed("watchlist") {
		setParam("watchlist", backtestWatchlist)
	}
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cmd, args, cfg)

	log, err := logger.NewWithOptions(logger.Options{
		Development: debug || cfg.Log.Development,
		Level:       logLevel(cfg),
		Format:      cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	if cfgFile == "" {
		log.Debug("no config file specified, using defaults and flags")
	}

	// Ctrl-C stops the run at the next date boundary
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log)
	a.RegisterBuiltins()

	out, runErr := a.Run(ctx)
	if out != nil && out.Result != nil {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "=== ATLAS-BT Backtest ===")
		report.WriteSummary(w, out.Result)
		if len(out.Files) > 0 {
			fmt.Fprintf(w, "\nReport files:\n  %s\n", strings.Join(out.Files, "\n  "))
		}
	}
	if runErr != nil {
		log.Error("backtest failed", zap.Error(runErr))
		return runErr
	}
	return nil
}

func logLevel(cfg *config.Config) string {
	if debug {
		return "debug"
	}
	return cfg.Log.Level
}
