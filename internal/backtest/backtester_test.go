package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/newthinker/atlas-bt/internal/market"
	"github.com/newthinker/atlas-bt/internal/metrics"
	"github.com/newthinker/atlas-bt/internal/portfolio"
	"github.com/newthinker/atlas-bt/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func dayN(i int) time.Time { return day0.AddDate(0, 0, i) }

// series builds bars from per-day open and close prices.
func series(t *testing.T, symbol string, opens, closes []float64) *market.Series {
	t.Helper()
	bars := make([]core.OHLCV, len(opens))
	for i := range opens {
		bars[i] = core.OHLCV{
			Symbol: symbol,
			Open:   opens[i],
			High:   max(opens[i], closes[i]),
			Low:    min(opens[i], closes[i]),
			Close:  closes[i],
			Time:   dayN(i),
		}
	}
	s, err := market.NewSeries(symbol, bars)
	require.NoError(t, err)
	return s
}

func flat(t *testing.T, symbol string, n int, price float64) *market.Series {
	t.Helper()
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = price
	}
	return series(t, symbol, prices, prices)
}

// scriptedStrategy returns the orders scripted for each calendar index.
type scriptedStrategy struct {
	orders  map[int][]core.Order
	failOn  int
	panicOn int
	onDate  func(ctx *strategy.Context)
	calls   int
}

func newScripted() *scriptedStrategy {
	return &scriptedStrategy{orders: map[int][]core.Order{}, failOn: -1, panicOn: -1}
}

func (s *scriptedStrategy) Name() string        { return "scripted" }
func (s *scriptedStrategy) Description() string { return "scripted orders for tests" }
func (s *scriptedStrategy) RequiredData() strategy.DataRequirements {
	return strategy.DataRequirements{}
}
func (s *scriptedStrategy) Init(strategy.Config) error { return nil }

func (s *scriptedStrategy) OnDate(ctx *strategy.Context) ([]core.Order, error) {
	i := s.calls
	s.calls++
	if s.onDate != nil {
		s.onDate(ctx)
	}
	if i == s.failOn {
		return nil, errors.New("signal computation failed")
	}
	if i == s.panicOn {
		panic("index out of range")
	}
	return s.orders[i], nil
}

func config(days int) Config {
	return Config{
		Start:          day0,
		End:            dayN(days - 1),
		IndexSymbol:    "IDX",
		InitialCapital: decimal.NewFromInt(1_000_000),
		Lookback:       60,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestBacktester_OnePointPerDateDatedNext(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 10, 3000))
	bt, err := New(config(10), data, newScripted())
	require.NoError(t, err)

	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, bt.State())
	assert.Equal(t, StateCompleted, result.State)

	points := result.Curve.Points()
	require.Len(t, points, 9)
	for i, p := range points {
		assert.True(t, p.Date.Equal(dayN(i+1)), "point %d dated %v", i, p.Date)
		if i > 0 {
			assert.True(t, p.Date.After(points[i-1].Date))
		}
		assertDecimal(t, "1000000", p.Value)
	}
	assert.NotEmpty(t, result.RunID)
}

func TestBacktester_FullAllocationScenario(t *testing.T) {
	data := market.NewDataSet(
		flat(t, "IDX", 3, 3000),
		flat(t, "600519", 3, 100),
	)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "600519", TargetWeight: 1.0}}

	bt, err := New(config(3), data, strat)
	require.NoError(t, err)

	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, int64(10_000), result.Trades[0].Quantity)
	assert.Equal(t, core.ActionOpen, result.Trades[0].Order.Action)

	assert.Equal(t, int64(10_000), result.Final.Position("600519").Quantity)
	assertDecimal(t, "0", result.Final.Cash)

	require.Equal(t, 2, result.Curve.Len())
	assertDecimal(t, "1000000", result.Curve.Points()[0].Value)
	assertDecimal(t, "1000000", result.Curve.Points()[1].Value)
}

func TestBacktester_ExecutesAtNextOpen(t *testing.T) {
	data := market.NewDataSet(
		flat(t, "IDX", 4, 3000),
		series(t, "600519",
			[]float64{50, 100, 110, 120},
			[]float64{60, 105, 115, 125},
		),
	)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "600519", TargetWeight: 0.5}}

	bt, err := New(config(4), data, strat)
	require.NoError(t, err)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assertDecimal(t, "100", trade.Price)
	assert.True(t, trade.Date.Equal(dayN(1)))
	assertDecimal(t, "100", result.Final.Position("600519").AvgCost)

	// 5000 shares marked at the following opens.
	points := result.Curve.Points()
	assertDecimal(t, "1000000", points[0].Value)
	assertDecimal(t, "1050000", points[1].Value)
	assertDecimal(t, "1100000", points[2].Value)
}

func TestBacktester_HalfHalfZeroScenario(t *testing.T) {
	data := market.NewDataSet(
		flat(t, "IDX", 5, 3000),
		flat(t, "600519", 5, 100),
	)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "600519", TargetWeight: 0.5}}
	strat.orders[1] = []core.Order{{Symbol: "600519", TargetWeight: 0.5}}
	strat.orders[2] = []core.Order{{Symbol: "600519", TargetWeight: 0.0}}

	bt, err := New(config(5), data, strat)
	require.NoError(t, err)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)

	open := result.Trades[0]
	assert.Equal(t, core.ActionOpen, open.Order.Action)
	assert.True(t, open.Date.Equal(dayN(1)))
	assert.Equal(t, int64(5_000), open.Quantity)

	closing := result.Trades[1]
	assert.Equal(t, core.ActionClose, closing.Order.Action)
	assert.True(t, closing.Date.Equal(dayN(3)))
	assert.Equal(t, int64(5_000), closing.Quantity)

	assert.Empty(t, result.Final.Positions)
	assertDecimal(t, "1000000", result.Final.Cash)
}

func TestBacktester_RecordsHoldDecisions(t *testing.T) {
	data := market.NewDataSet(
		flat(t, "IDX", 4, 3000),
		flat(t, "600519", 4, 100),
	)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "600519", TargetWeight: 0.5}}
	strat.orders[1] = []core.Order{{Symbol: "600519", TargetWeight: 0.5}}

	bt, err := New(config(4), data, strat)
	require.NoError(t, err)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	require.Len(t, result.Decisions, 2)

	assert.Equal(t, core.ActionOpen, result.Decisions[0].Order.Action)
	hold := result.Decisions[1]
	assert.Equal(t, core.ActionHold, hold.Order.Action)
	assert.Equal(t, "600519", hold.Order.Symbol)
	assert.True(t, hold.Date.Equal(dayN(1)))
	assert.True(t, hold.Execution.Equal(dayN(2)))
	assert.Equal(t, 1, result.Stats.Holds)
}

func TestBacktester_RealizedPL(t *testing.T) {
	data := market.NewDataSet(
		flat(t, "IDX", 4, 3000),
		series(t, "600519",
			[]float64{90, 100, 120, 120},
			[]float64{90, 100, 120, 120},
		),
	)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "600519", TargetWeight: 0.5}}
	strat.orders[1] = []core.Order{{Symbol: "600519", TargetWeight: 0}}

	bt, err := New(config(4), data, strat)
	require.NoError(t, err)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	assert.True(t, result.Trades[0].RealizedPL.IsZero())
	assertDecimal(t, "100000", result.Trades[1].RealizedPL)
	assert.InDelta(t, 100_000, result.Stats.RealizedPL, 0.001)
	assert.Empty(t, result.Final.Positions)
}

func TestBacktester_NonFiniteWeightIsRejected(t *testing.T) {
	data := market.NewDataSet(
		flat(t, "IDX", 3, 3000),
		flat(t, "600519", 3, 100),
	)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "600519", TargetWeight: math.NaN()}}

	bt, err := New(config(3), data, strat)
	require.NoError(t, err)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Empty(t, result.Trades)
	require.Len(t, result.Rejections, 1)
	assert.ErrorIs(t, result.Rejections[0].Err, core.ErrInvalidOrder)
	assert.Equal(t, 2, result.Curve.Len())
}

func TestBacktester_EmptyOrdersStillRecord(t *testing.T) {
	data := market.NewDataSet(
		flat(t, "IDX", 4, 3000),
		series(t, "600519", []float64{100, 100, 120, 90}, []float64{100, 100, 120, 90}),
	)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "600519", TargetWeight: 0.1}}

	var snapshots []portfolio.Snapshot
	strat.onDate = func(ctx *strategy.Context) {
		snapshots = append(snapshots, ctx.Portfolio)
	}

	bt, err := New(config(4), data, strat)
	require.NoError(t, err)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, snapshots, 3)
	assert.True(t, snapshots[1].Cash.Equal(snapshots[2].Cash))
	assert.Equal(t, snapshots[1].Positions["600519"].Quantity, snapshots[2].Positions["600519"].Quantity)

	require.Equal(t, 3, result.Curve.Len())
	assertDecimal(t, "1020000", result.Curve.Points()[1].Value)
	assertDecimal(t, "990000", result.Curve.Points()[2].Value)
}

func TestBacktester_LookbackOnTenthDay(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 20, 3000))
	strat := newScripted()

	var lengths []int
	var short []bool
	strat.onDate = func(ctx *strategy.Context) {
		w, err := ctx.History("IDX", 60)
		require.NoError(t, err)
		lengths = append(lengths, len(w.Bars))
		short = append(short, w.Short())
	}

	bt, err := New(config(20), data, strat)
	require.NoError(t, err)
	_, err = bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, lengths, 19)
	assert.Equal(t, 10, lengths[9])
	assert.True(t, short[9])
}

func TestBacktester_StrategyErrorFails(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 10, 3000), flat(t, "A", 10, 10))
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "A", TargetWeight: 0.5}}
	strat.failOn = 3

	bt, err := New(config(10), data, strat)
	require.NoError(t, err)

	result, err := bt.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStrategyFailed)
	assert.Equal(t, StateFailed, bt.State())

	require.NotNil(t, result)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, result.Curve.Len())
	assert.Len(t, result.Trades, 1)
	assert.Equal(t, 4, strat.calls, "no dates should run after the failure")
}

func TestBacktester_StrategyPanicFails(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 5, 3000))
	strat := newScripted()
	strat.panicOn = 1

	bt, err := New(config(5), data, strat)
	require.NoError(t, err)

	result, err := bt.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrStrategyFailed)
	assert.Equal(t, 1, result.Curve.Len())
}

func TestBacktester_CancelAtDateBoundary(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 10, 3000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strat := newScripted()
	strat.onDate = func(*strategy.Context) {
		if strat.calls == 3 {
			cancel()
		}
	}

	bt, err := New(config(10), data, strat)
	require.NoError(t, err)

	result, err := bt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, bt.State())
	// The date in flight when cancel fired still completes.
	assert.Equal(t, 3, result.Curve.Len())
}

func TestBacktester_RunOnlyOnce(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 3, 3000))
	bt, err := New(config(3), data, newScripted())
	require.NoError(t, err)

	_, err = bt.Run(context.Background())
	require.NoError(t, err)

	_, err = bt.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestBacktester_SuspendedSymbol(t *testing.T) {
	bars := flat(t, "A", 5, 10).Bars()
	suspended, err := market.NewSeries("A", append(bars[:2:2], bars[3:]...))
	require.NoError(t, err)

	data := market.NewDataSet(flat(t, "IDX", 5, 3000), suspended)
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "A", TargetWeight: 0.5}}
	strat.orders[1] = []core.Order{{Symbol: "A", TargetWeight: 1.0}}

	bt, err := New(config(5), data, strat)
	require.NoError(t, err)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Rejections, 1)
	assert.ErrorIs(t, result.Rejections[0].Err, core.ErrNoPrice)
	assert.True(t, result.Rejections[0].Date.Equal(dayN(2)))

	// Valued at the last known price while suspended.
	assertDecimal(t, "1000000", result.Curve.Points()[1].Value)
	assert.Equal(t, 1, result.Stats.Rejected)
}

func TestNew_Errors(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 5, 3000))

	_, err := New(Config{Start: dayN(30), End: dayN(40), IndexSymbol: "IDX"}, data, newScripted())
	assert.ErrorIs(t, err, core.ErrEmptyCalendar)

	_, err = New(Config{Start: day0, End: dayN(4), IndexSymbol: "OTHER"}, data, newScripted())
	assert.ErrorIs(t, err, core.ErrSymbolNotFound)

	_, err = New(config(5), nil, newScripted())
	assert.ErrorIs(t, err, core.ErrNoData)

	_, err = New(config(5), data, nil)
	assert.ErrorIs(t, err, core.ErrConfigMissing)

	cfg := config(5)
	cfg.InitialCapital = decimal.NewFromInt(-1)
	_, err = New(cfg, data, newScripted())
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	cfg = config(5)
	cfg.Start, cfg.End = cfg.End, cfg.Start
	_, err = New(cfg, data, newScripted())
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestBacktester_SingleDateCalendar(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 5, 3000))
	bt, err := New(Config{Start: dayN(2), End: dayN(2), IndexSymbol: "IDX", InitialCapital: decimal.NewFromInt(100)}, data, newScripted())
	require.NoError(t, err)

	result, err := bt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Curve.Len())
	assert.Equal(t, StateCompleted, result.State)
}

func TestBacktester_RecordsMetrics(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 4, 3000), flat(t, "A", 4, 10))
	strat := newScripted()
	strat.orders[0] = []core.Order{{Symbol: "A", TargetWeight: 1}}
	strat.orders[1] = []core.Order{{Symbol: "A", TargetWeight: 1}}
	reg := metrics.NewRegistry()

	bt, err := New(config(4), data, strat, WithMetrics(reg))
	require.NoError(t, err)
	_, err = bt.Run(context.Background())
	require.NoError(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["atlasbt_days_simulated_total"])
	assert.Equal(t, 1.0, values["atlasbt_trades_total"])
	assert.Equal(t, 2.0, values["atlasbt_orders_total"])
	assert.Equal(t, 1.0, values["atlasbt_backtests_total"])
}

func TestBacktester_IndependentRuns(t *testing.T) {
	data := market.NewDataSet(flat(t, "IDX", 5, 3000), flat(t, "A", 5, 10))

	a := newScripted()
	a.orders[0] = []core.Order{{Symbol: "A", TargetWeight: 1}}
	b := newScripted()

	btA, err := New(config(5), data, a)
	require.NoError(t, err)
	btB, err := New(config(5), data, b)
	require.NoError(t, err)

	resA, err := btA.Run(context.Background())
	require.NoError(t, err)
	resB, err := btB.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, resA.RunID, resB.RunID)
	assert.True(t, resA.Final.Holds("A"))
	assert.False(t, resB.Final.Holds("A"))
}
