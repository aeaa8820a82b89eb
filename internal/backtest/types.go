package backtest

import (
	"fmt"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/newthinker/atlas-bt/internal/portfolio"
	"github.com/shopspring/decimal"
)

// State is a Backtester's lifecycle stage
type State string

const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// EquityPoint is the account value at one date
type EquityPoint struct {
	Date  time.Time
	Value decimal.Decimal
}

// EquityCurve is an append-only, strictly date-ordered series of account values
type EquityCurve struct {
	points []EquityPoint
}

// Append adds a point dated after the current last one.
func (c *EquityCurve) Append(date time.Time, value decimal.Decimal) error {
	if n := len(c.points); n > 0 && !date.After(c.points[n-1].Date) {
		return fmt.Errorf("equity curve: %s does not follow %s",
			date.Format("2006-01-02"), c.points[n-1].Date.Format("2006-01-02"))
	}
	c.points = append(c.points, EquityPoint{Date: date, Value: value})
	return nil
}

// Len returns the number of points
func (c EquityCurve) Len() int {
	return len(c.points)
}

// Points returns a copy of all points
func (c EquityCurve) Points() []EquityPoint {
	out := make([]EquityPoint, len(c.points))
	copy(out, c.points)
	return out
}

// Last returns the most recent point
func (c EquityCurve) Last() (EquityPoint, bool) {
	if len(c.points) == 0 {
		return EquityPoint{}, false
	}
	return c.points[len(c.points)-1], true
}

// Values returns account values as float64 for statistics
func (c EquityCurve) Values() []float64 {
	out := make([]float64, len(c.points))
	for i, p := range c.points {
		out[i] = p.Value.InexactFloat64()
	}
	return out
}

func (c EquityCurve) clone() EquityCurve {
	return EquityCurve{points: c.Points()}
}

// Decision is one order after classification against the holding it was
// executed against. Rejected orders that never reached classification are
// in Result.Rejections instead.
type Decision struct {
	Date      time.Time // decision date
	Execution time.Time // date whose open the order executed at
	Order     core.Order
}

// Result holds the complete backtest output
type Result struct {
	RunID          string
	Strategy       string
	IndexSymbol    string
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital decimal.Decimal
	State          State
	Curve          EquityCurve
	Decisions      []Decision
	Trades         []portfolio.Trade
	Rejections     []portfolio.Rejection
	Final          portfolio.Snapshot
	Stats          Stats
}

// Stats holds performance statistics
type Stats struct {
	TradingDays      int
	TotalTrades      int
	PartialFills     int
	Rejected         int
	Holds            int     // classified orders that left the holding unchanged
	RealizedPL       float64 // summed over sells
	FinalValue       float64
	TotalReturn      float64 // Net return percentage
	AnnualizedReturn float64 // Percentage, 252 trading days a year
	MaxDrawdown      float64 // Largest peak-to-trough decline, percentage
	SharpeRatio      float64 // Risk-adjusted daily return (annualized)
}
