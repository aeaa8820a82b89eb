package strategy

import (
	"time"

	"github.com/newthinker/atlas-bt/internal/market"
	"github.com/newthinker/atlas-bt/internal/portfolio"
)

// HistorySource serves price history. *market.DataSet implements it.
type HistorySource interface {
	History(symbol string, asOf time.Time, lookback int) (market.Window, error)
}

// Context is the view a strategy gets for one trading date. It is built
// fresh for every date and holds a detached copy of the portfolio.
type Context struct {
	AsOf      time.Time
	Lookback  int
	Portfolio portfolio.Snapshot

	data HistorySource
}

// NewContext creates a context for asOf. Lookback caps every History call.
func NewContext(asOf time.Time, lookback int, snapshot portfolio.Snapshot, data HistorySource) *Context {
	return &Context{
		AsOf:      asOf,
		Lookback:  lookback,
		Portfolio: snapshot,
		data:      data,
	}
}

// History returns up to lookback bars of symbol ending on AsOf. A
// lookback of zero or beyond the context's cap is clamped to the cap; the
// returned window still records what was asked for, so a clamped or young
// series reports Short.
func (c *Context) History(symbol string, lookback int) (market.Window, error) {
	requested := lookback
	if lookback <= 0 {
		requested = c.Lookback
	}
	n := requested
	if n > c.Lookback {
		n = c.Lookback
	}

	w, err := c.data.History(symbol, c.AsOf, n)
	w.Requested = requested
	return w, err
}
