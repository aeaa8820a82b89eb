// Package market holds the daily price data a backtest runs against.
package market

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
)

// Series is one symbol's daily bars, strictly increasing by date.
// A Series is immutable once built.
type Series struct {
	symbol string
	bars   []core.OHLCV
}

// NewSeries validates and copies bars into a Series. Bar times are
// normalised to their calendar day. Bars with non-finite prices are
// rejected.
func NewSeries(symbol string, bars []core.OHLCV) (*Series, error) {
	out := make([]core.OHLCV, len(bars))
	for i, bar := range bars {
		bar.Time = core.Date(bar.Time)
		if bar.Symbol == "" {
			bar.Symbol = symbol
		}
		if !finite(bar.Open, bar.High, bar.Low, bar.Close) {
			return nil, core.WrapError(core.ErrInvalidSeries,
				fmt.Errorf("%s: bar %d dated %s has a non-finite price", symbol, i, bar.Time.Format("2006-01-02")))
		}
		if i > 0 && !bar.Time.After(out[i-1].Time) {
			return nil, core.WrapError(core.ErrInvalidSeries,
				fmt.Errorf("%s: bar %d dated %s does not follow %s",
					symbol, i, bar.Time.Format("2006-01-02"), out[i-1].Time.Format("2006-01-02")))
		}
		out[i] = bar
	}
	return &Series{symbol: symbol, bars: out}, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Symbol returns the series symbol.
func (s *Series) Symbol() string { return s.symbol }

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// Bars returns a copy of all bars.
func (s *Series) Bars() []core.OHLCV {
	out := make([]core.OHLCV, len(s.bars))
	copy(out, s.bars)
	return out
}

// search returns the index of the first bar dated on or after date.
func (s *Series) search(date time.Time) int {
	date = core.Date(date)
	return sort.Search(len(s.bars), func(i int) bool {
		return !s.bars[i].Time.Before(date)
	})
}

// On returns the bar dated exactly date, if the symbol traded that day.
func (s *Series) On(date time.Time) (core.OHLCV, bool) {
	i := s.search(date)
	if i < len(s.bars) && s.bars[i].Time.Equal(core.Date(date)) {
		return s.bars[i], true
	}
	return core.OHLCV{}, false
}

// Window returns up to lookback bars ending on or before asOf.
func (s *Series) Window(asOf time.Time, lookback int) Window {
	end := s.search(asOf)
	if end < len(s.bars) && s.bars[end].Time.Equal(core.Date(asOf)) {
		end++
	}
	start := end - lookback
	if start < 0 {
		start = 0
	}
	bars := make([]core.OHLCV, end-start)
	copy(bars, s.bars[start:end])
	return Window{Symbol: s.symbol, Bars: bars, Requested: lookback}
}

// Window is a slice of history handed to a strategy. It is never padded:
// when less history exists than was asked for, Bars is simply shorter.
type Window struct {
	Symbol    string
	Bars      []core.OHLCV
	Requested int
}

// Short reports whether fewer bars than requested were available.
func (w Window) Short() bool {
	return len(w.Bars) < w.Requested
}

// Err returns an INSUFFICIENT_DATA error when the window is short.
func (w Window) Err() error {
	if !w.Short() {
		return nil
	}
	return core.WrapError(core.ErrInsufficientData,
		fmt.Errorf("%s: %d of %d bars", w.Symbol, len(w.Bars), w.Requested))
}

// Closes extracts closing prices in date order.
func (w Window) Closes() []float64 {
	out := make([]float64, len(w.Bars))
	for i, bar := range w.Bars {
		out[i] = bar.Close
	}
	return out
}

// Last returns the most recent bar in the window.
func (w Window) Last() (core.OHLCV, bool) {
	if len(w.Bars) == 0 {
		return core.OHLCV{}, false
	}
	return w.Bars[len(w.Bars)-1], true
}
