package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/newthinker/atlas-bt/internal/market"
	"github.com/newthinker/atlas-bt/internal/portfolio"
	"github.com/shopspring/decimal"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func testData(t *testing.T, symbol string, n int) *market.DataSet {
	t.Helper()
	bars := make([]core.OHLCV, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = core.OHLCV{Symbol: symbol, Open: p, High: p, Low: p, Close: p, Time: day0.AddDate(0, 0, i)}
	}
	s, err := market.NewSeries(symbol, bars)
	if err != nil {
		t.Fatalf("NewSeries() error = %v", err)
	}
	return market.NewDataSet(s)
}

func TestContext_History_TruncatedNotPadded(t *testing.T) {
	data := testData(t, "600519", 100)
	ctx := NewContext(day0.AddDate(0, 0, 9), 60, portfolio.Snapshot{}, data)

	w, err := ctx.History("600519", 60)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(w.Bars) != 10 {
		t.Fatalf("expected 10 bars on the 10th trading day, got %d", len(w.Bars))
	}
	if !w.Short() || !errors.Is(w.Err(), core.ErrInsufficientData) {
		t.Error("window should be marked as short")
	}
	if !w.Bars[9].Time.Equal(day0.AddDate(0, 0, 9)) {
		t.Errorf("last bar should be as-of date, got %v", w.Bars[9].Time)
	}
}

func TestContext_History_CappedByLookback(t *testing.T) {
	data := testData(t, "600519", 100)
	ctx := NewContext(day0.AddDate(0, 0, 99), 20, portfolio.Snapshot{}, data)

	w, _ := ctx.History("600519", 50)
	if len(w.Bars) != 20 {
		t.Errorf("expected cap of 20 bars, got %d", len(w.Bars))
	}
	if w.Requested != 50 || !w.Short() {
		t.Errorf("capped window should report the original request, got %d", w.Requested)
	}

	w, _ = ctx.History("600519", 0)
	if len(w.Bars) != 20 || w.Short() {
		t.Errorf("zero lookback should use the cap, got %d bars short=%v", len(w.Bars), w.Short())
	}
}

func TestContext_History_NoLookahead(t *testing.T) {
	data := testData(t, "600519", 100)
	asOf := day0.AddDate(0, 0, 30)
	ctx := NewContext(asOf, 60, portfolio.Snapshot{}, data)

	w, _ := ctx.History("600519", 60)
	for _, bar := range w.Bars {
		if bar.Time.After(asOf) {
			t.Fatalf("bar %v is after as-of date %v", bar.Time, asOf)
		}
	}
}

func TestContext_PortfolioIsCopy(t *testing.T) {
	p := portfolio.New(decimal.NewFromInt(1000))
	p.ApplyTargetWeights([]core.Order{{Symbol: "600519", TargetWeight: 0.5}}, portfolio.Prices{"600519": 100})

	ctx := NewContext(day0, 10, p.Snapshot(), testData(t, "600519", 1))
	delete(ctx.Portfolio.Positions, "600519")
	ctx.Portfolio.Cash = decimal.Zero

	if p.Position("600519").Quantity != 5 {
		t.Error("mutating the context changed the portfolio")
	}
	if !p.Cash().Equal(decimal.NewFromInt(500)) {
		t.Errorf("cash changed to %s", p.Cash())
	}
}

func TestConfig_Params(t *testing.T) {
	cfg := Config{Params: map[string]any{
		"top_n":     3,
		"lookback":  float64(60),
		"weight":    0.5,
		"symbol":    "600519",
		"watchlist": []any{"600519", "000858"},
		"csv":       "a, b,,c",
	}}

	if v, ok := cfg.Int("top_n"); !ok || v != 3 {
		t.Errorf("Int(top_n) = %d, %v", v, ok)
	}
	if v, ok := cfg.Int("lookback"); !ok || v != 60 {
		t.Errorf("Int(lookback) = %d, %v", v, ok)
	}
	if v, ok := cfg.Float("weight"); !ok || v != 0.5 {
		t.Errorf("Float(weight) = %f, %v", v, ok)
	}
	if v, ok := cfg.String("symbol"); !ok || v != "600519" {
		t.Errorf("String(symbol) = %s, %v", v, ok)
	}
	if v, ok := cfg.Strings("watchlist"); !ok || len(v) != 2 {
		t.Errorf("Strings(watchlist) = %v, %v", v, ok)
	}
	if v, ok := cfg.Strings("csv"); !ok || len(v) != 3 || v[1] != "b" {
		t.Errorf("Strings(csv) = %v, %v", v, ok)
	}
	if _, ok := cfg.Int("missing"); ok {
		t.Error("missing key should not be found")
	}
}
