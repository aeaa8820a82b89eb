package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Provider fetches daily history for a symbol. Collectors implement it.
type Provider interface {
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error)
}

// LoadOptions tunes how a DataSet is populated.
type LoadOptions struct {
	// Concurrency bounds parallel fetches. Zero means 4.
	Concurrency int
	Logger      *zap.Logger
}

// DataSet is a sealed, read-only cache of price series. It is populated
// once by Load before a run and never changes afterwards, so any number
// of runs may read it concurrently.
type DataSet struct {
	series map[string]*Series
}

// NewDataSet builds a DataSet from already-validated series.
func NewDataSet(series ...*Series) *DataSet {
	ds := &DataSet{series: make(map[string]*Series, len(series))}
	for _, s := range series {
		ds.series[s.symbol] = s
	}
	return ds
}

// Load fetches every symbol in parallel and seals the result. Any fetch or
// validation failure aborts the whole load.
func Load(ctx context.Context, provider Provider, symbols []string, start, end time.Time, opts LoadOptions) (*DataSet, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}

	unique := dedupe(symbols)
	results := make([]*Series, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, symbol := range unique {
		g.Go(func() error {
			bars, err := provider.FetchHistory(gctx, symbol, start, end)
			if err != nil {
				return core.WrapError(core.ErrCollectorFailed, fmt.Errorf("%s: %w", symbol, err))
			}
			if len(bars) == 0 {
				return core.WrapError(core.ErrNoData, fmt.Errorf("%s", symbol))
			}
			s, err := NewSeries(symbol, bars)
			if err != nil {
				return err
			}
			results[i] = s
			log.Debug("loaded series",
				zap.String("symbol", symbol),
				zap.Int("bars", s.Len()),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("price data loaded", zap.Int("symbols", len(results)))
	return NewDataSet(results...), nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Series returns the series for symbol.
func (d *DataSet) Series(symbol string) (*Series, error) {
	s, ok := d.series[symbol]
	if !ok {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("%s", symbol))
	}
	return s, nil
}

// Symbols returns the loaded symbols in lexical order.
func (d *DataSet) Symbols() []string {
	out := make([]string, 0, len(d.series))
	for s := range d.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Bar returns symbol's bar on date.
func (d *DataSet) Bar(symbol string, date time.Time) (core.OHLCV, bool) {
	s, ok := d.series[symbol]
	if !ok {
		return core.OHLCV{}, false
	}
	return s.On(date)
}

// OpenPrices returns the opening price on date for each symbol that traded.
func (d *DataSet) OpenPrices(symbols []string, date time.Time) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if bar, ok := d.Bar(symbol, date); ok {
			out[symbol] = bar.Open
		}
	}
	return out
}

// History returns up to lookback bars of symbol ending on or before asOf.
func (d *DataSet) History(symbol string, asOf time.Time, lookback int) (Window, error) {
	s, err := d.Series(symbol)
	if err != nil {
		return Window{Symbol: symbol, Requested: lookback}, err
	}
	return s.Window(asOf, lookback), nil
}
