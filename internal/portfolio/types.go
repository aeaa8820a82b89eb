// Package portfolio keeps the cash and share positions of a simulated
// account and turns target-weight orders into trades.
package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/shopspring/decimal"
)

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Prices maps symbol to a price valid for one point in time.
type Prices map[string]float64

// Get returns the price for symbol. Missing, non-positive and non-finite
// prices are reported as absent.
func (p Prices) Get(symbol string) (decimal.Decimal, bool) {
	v, ok := p[symbol]
	if !ok || !(v > 0) || math.IsInf(v, 1) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

// Position is a long holding in whole shares.
type Position struct {
	Symbol     string
	Quantity   int64
	AvgCost    decimal.Decimal
	LastPrice  decimal.Decimal // latest price the position was marked or traded at
	RealizedPL decimal.Decimal
}

// MarketValue returns quantity × price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis returns quantity × average cost.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Quantity))
}

// Trade is one executed fill.
type Trade struct {
	Date      time.Time // stamped by the caller that knows the execution date
	Order     core.Order
	Side      Side
	Requested int64 // shares the translation asked for
	Quantity  int64 // shares actually filled
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Partial   bool

	RealizedPL decimal.Decimal // sells only, against the average cost at fill time
}

// Rejection is an order that produced no trade.
type Rejection struct {
	Date  time.Time
	Order core.Order
	Err   error
}

// ExecutionReport describes the outcome of one ApplyTargetWeights call.
type ExecutionReport struct {
	ValueBefore decimal.Decimal
	Orders      []core.Order // every translated order, with its Action set
	Trades      []Trade
	Rejected    []Rejection
}

// PartialFills counts trades filled for less than requested.
func (r ExecutionReport) PartialFills() int {
	var n int
	for _, t := range r.Trades {
		if t.Partial {
			n++
		}
	}
	return n
}

// Snapshot is a read-only copy of a portfolio at one moment.
type Snapshot struct {
	Cash      decimal.Decimal
	Positions map[string]Position
}

// Position returns the holding for symbol, zero-quantity if none.
func (s Snapshot) Position(symbol string) Position {
	if pos, ok := s.Positions[symbol]; ok {
		return pos
	}
	return Position{Symbol: symbol}
}

// Holds reports whether the snapshot has a non-zero position in symbol.
func (s Snapshot) Holds(symbol string) bool {
	return s.Positions[symbol].Quantity > 0
}

// Symbols returns the held symbols in lexical order.
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Positions))
	for symbol := range s.Positions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
