package market

import (
	"fmt"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
)

// Calendar is the ordered set of trading dates that drives a simulation.
type Calendar struct {
	dates []time.Time
}

// NewCalendar takes the dates of the reference series that fall within
// [start, end], both inclusive at day granularity.
func NewCalendar(ref *Series, start, end time.Time) (*Calendar, error) {
	if ref == nil {
		return nil, core.WrapError(core.ErrEmptyCalendar, fmt.Errorf("no reference series"))
	}
	start, end = core.Date(start), core.Date(end)

	var dates []time.Time
	for _, bar := range ref.bars {
		if bar.Time.Before(start) || bar.Time.After(end) {
			continue
		}
		dates = append(dates, bar.Time)
	}

	if len(dates) == 0 {
		return nil, core.WrapError(core.ErrEmptyCalendar,
			fmt.Errorf("%s between %s and %s", ref.symbol, start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	return &Calendar{dates: dates}, nil
}

// Len returns the number of trading dates.
func (c *Calendar) Len() int { return len(c.dates) }

// At returns the i-th trading date.
func (c *Calendar) At(i int) time.Time { return c.dates[i] }

// Next returns the trading date after the i-th one.
func (c *Calendar) Next(i int) (time.Time, bool) {
	if i+1 >= len(c.dates) {
		return time.Time{}, false
	}
	return c.dates[i+1], true
}

// Dates returns a copy of all trading dates.
func (c *Calendar) Dates() []time.Time {
	out := make([]time.Time, len(c.dates))
	copy(out, c.dates)
	return out
}
