package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/newthinker/atlas-bt/internal/market"
	"github.com/newthinker/atlas-bt/internal/metrics"
	"github.com/newthinker/atlas-bt/internal/portfolio"
	"github.com/newthinker/atlas-bt/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAlreadyRun is returned by Run on a Backtester that has already run.
var ErrAlreadyRun = errors.New("backtest: run already started")

// Config holds the parameters the engine uses directly
type Config struct {
	Start          time.Time
	End            time.Time
	IndexSymbol    string // reference series that defines the trading calendar
	InitialCapital decimal.Decimal
	Lookback       int // history cap handed to the strategy, in trading days
}

// Option configures a Backtester
type Option func(*Backtester)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Backtester) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics reports run progress to reg
func WithMetrics(reg *metrics.Registry) Option {
	return func(b *Backtester) {
		b.metrics = reg
	}
}

// Backtester runs one strategy over one trading calendar. Each Backtester
// owns its portfolio and equity curve and can be run once.
type Backtester struct {
	cfg       Config
	runID     string
	data      *market.DataSet
	strategy  strategy.Strategy
	calendar  *market.Calendar
	lookback  int
	portfolio *portfolio.Portfolio
	state     State

	curve      EquityCurve
	decisions  []Decision
	trades     []portfolio.Trade
	rejections []portfolio.Rejection

	logger  *zap.Logger
	metrics *metrics.Registry
}

// New validates the configuration and builds the trading calendar from
// the reference series. Calendar and data problems fail here, before any
// simulation starts.
func New(cfg Config, data *market.DataSet, strat strategy.Strategy, opts ...Option) (*Backtester, error) {
	if data == nil {
		return nil, core.WrapError(core.ErrNoData, errors.New("no data set"))
	}
	if strat == nil {
		return nil, core.WrapError(core.ErrConfigMissing, errors.New("no strategy"))
	}
	if cfg.InitialCapital.IsNegative() {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("initial capital cannot be negative, got %s", cfg.InitialCapital))
	}
	if cfg.End.Before(cfg.Start) {
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("end date must be after start date"))
	}

	ref, err := data.Series(cfg.IndexSymbol)
	if err != nil {
		return nil, err
	}
	calendar, err := market.NewCalendar(ref, cfg.Start, cfg.End)
	if err != nil {
		return nil, err
	}

	b := &Backtester{
		cfg:      cfg,
		runID:    uuid.NewString(),
		data:     data,
		strategy: strat,
		calendar: calendar,
		lookback: max(cfg.Lookback, strat.RequiredData().PriceHistory, 1),
		state:    StateInitialized,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("run_id", b.runID), zap.String("strategy", strat.Name()))
	b.portfolio = portfolio.New(cfg.InitialCapital, portfolio.WithLogger(b.logger))

	return b, nil
}

// State returns the current lifecycle state
func (b *Backtester) State() State {
	return b.state
}

// Calendar returns the trading calendar driving the run
func (b *Backtester) Calendar() *market.Calendar {
	return b.calendar
}

// Run simulates every calendar date except the last, which has no next
// open to execute at. A strategy error stops the run in StateFailed and a
// cancelled ctx stops it in StateCancelled; both still return the result
// recorded up to the last completed date alongside the error.
func (b *Backtester) Run(ctx context.Context) (*Result, error) {
	if b.state != StateInitialized {
		return nil, ErrAlreadyRun
	}
	b.state = StateRunning
	started := time.Now()

	b.logger.Info("backtest started",
		zap.String("index", b.cfg.IndexSymbol),
		zap.Time("first", b.calendar.At(0)),
		zap.Time("last", b.calendar.At(b.calendar.Len()-1)),
		zap.Int("dates", b.calendar.Len()),
		zap.String("capital", b.cfg.InitialCapital.StringFixed(2)),
		zap.Int("lookback", b.lookback),
	)

	var runErr error
	for i := 0; i < b.calendar.Len()-1; i++ {
		// Only stop between dates so the last recorded day stays consistent.
		if err := ctx.Err(); err != nil {
			b.state = StateCancelled
			runErr = err
			break
		}
		if err := b.step(i); err != nil {
			b.state = StateFailed
			runErr = err
			break
		}
	}
	if runErr == nil {
		b.state = StateCompleted
	}

	result := b.result()
	elapsed := time.Since(started)
	if b.metrics != nil {
		b.metrics.RecordBacktest(string(b.state), elapsed.Seconds())
	}

	fields := []zap.Field{
		zap.String("state", string(b.state)),
		zap.Int("points", result.Curve.Len()),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("total_return_pct", result.Stats.TotalReturn),
		zap.Duration("elapsed", elapsed),
	}
	if runErr != nil {
		b.logger.Error("backtest stopped", append(fields, zap.Error(runErr))...)
		return result, runErr
	}
	b.logger.Info("backtest completed", fields...)
	return result, nil
}

// step runs the decision on date i and executes it at date i+1's open.
func (b *Backtester) step(i int) error {
	date := b.calendar.At(i)
	next, _ := b.calendar.Next(i)

	sctx := strategy.NewContext(date, b.lookback, b.portfolio.Snapshot(), b.data)
	orders, err := b.decide(sctx)
	if err != nil {
		return core.WrapError(core.ErrStrategyFailed,
			fmt.Errorf("%s on %s: %w", b.strategy.Name(), date.Format("2006-01-02"), err))
	}

	exec := portfolio.Prices(b.data.OpenPrices(b.symbols(orders), next))
	report, err := b.execute(orders, exec)
	if err != nil {
		return fmt.Errorf("executing orders from %s: %w", date.Format("2006-01-02"), err)
	}

	for _, o := range report.Orders {
		b.decisions = append(b.decisions, Decision{Date: date, Execution: next, Order: o})
		if b.metrics != nil {
			b.metrics.RecordOrder(string(o.Action))
		}
	}
	for _, t := range report.Trades {
		t.Date = next
		b.trades = append(b.trades, t)
		if b.metrics != nil {
			b.metrics.RecordTrade(string(t.Order.Action), t.Partial)
		}
	}
	for _, r := range report.Rejected {
		r.Date = next
		b.rejections = append(b.rejections, r)
		if b.metrics != nil {
			b.metrics.RecordRejection()
		}
	}

	b.portfolio.Revalue(exec)
	value := b.portfolio.MarkToMarket(exec)
	if err := b.curve.Append(next, value); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.RecordDay(value.InexactFloat64())
	}

	b.logger.Debug("date simulated",
		zap.Time("decision", date),
		zap.Time("execution", next),
		zap.Int("orders", len(orders)),
		zap.Int("trades", len(report.Trades)),
		zap.String("value", value.StringFixed(2)),
	)
	return nil
}

// decide calls the strategy, turning a panic into an error.
func (b *Backtester) decide(sctx *strategy.Context) (orders []core.Order, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.strategy.OnDate(sctx)
}

// execute applies orders to the portfolio, turning a panic into an error
// so the run still ends in StateFailed with its recorded result.
func (b *Backtester) execute(orders []core.Order, exec portfolio.Prices) (report portfolio.ExecutionReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.portfolio.ApplyTargetWeights(orders, exec), nil
}

// symbols is the union of ordered and held symbols, sorted.
func (b *Backtester) symbols(orders []core.Order) []string {
	set := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		set[o.Symbol] = struct{}{}
	}
	for _, s := range b.portfolio.Symbols() {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (b *Backtester) result() *Result {
	trades := make([]portfolio.Trade, len(b.trades))
	copy(trades, b.trades)
	rejections := make([]portfolio.Rejection, len(b.rejections))
	copy(rejections, b.rejections)
	decisions := make([]Decision, len(b.decisions))
	copy(decisions, b.decisions)
	curve := b.curve.clone()

	stats := CalculateStats(curve, b.cfg.InitialCapital, trades, len(rejections))
	for _, d := range decisions {
		if d.Order.Action == core.ActionHold {
			stats.Holds++
		}
	}

	return &Result{
		RunID:          b.runID,
		Strategy:       b.strategy.Name(),
		IndexSymbol:    b.cfg.IndexSymbol,
		StartDate:      b.cfg.Start,
		EndDate:        b.cfg.End,
		InitialCapital: b.cfg.InitialCapital,
		State:          b.state,
		Curve:          curve,
		Decisions:      decisions,
		Trades:         trades,
		Rejections:     rejections,
		Final:          b.portfolio.Snapshot(),
		Stats:          stats,
	}
}
