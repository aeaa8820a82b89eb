package core

import (
	"fmt"
	"math"
	"time"
)

// Market represents a trading market
type Market string

const (
	MarketUS  Market = "US"
	MarketHK  Market = "HK"
	MarketCNA Market = "CN_A"
)

// OHLCV represents a daily candlestick/bar
type OHLCV struct {
	Symbol   string
	Interval string // "1d"
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Time     time.Time
}

// Date truncates t to its calendar day in UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Action classifies what a target-weight order turns into once it is
// compared against the current holding.
type Action string

const (
	ActionHold      Action = "hold"
	ActionRebalance Action = "rebalance"
	ActionOpen      Action = "open"
	ActionClose     Action = "close"
)

// Label returns the A-share desk label for the action.
func (a Action) Label() string {
	switch a {
	case ActionOpen:
		return "开仓"
	case ActionClose:
		return "平仓"
	case ActionRebalance:
		return "调仓"
	default:
		return "持有"
	}
}

// Valid reports whether a is one of the four known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionHold, ActionRebalance, ActionOpen, ActionClose:
		return true
	}
	return false
}

// Order is a strategy's request to hold TargetWeight of total account value
// in Symbol. Action is assigned when the order is translated into a trade;
// whatever a strategy puts there is ignored.
type Order struct {
	Symbol       string
	TargetWeight float64
	Action       Action
}

// Validate checks symbol and weight bounds. NaN weights are invalid.
func (o Order) Validate() error {
	if o.Symbol == "" {
		return WrapError(ErrInvalidOrder, fmt.Errorf("empty symbol"))
	}
	if math.IsNaN(o.TargetWeight) || o.TargetWeight < 0 || o.TargetWeight > 1 {
		return WrapError(ErrInvalidOrder,
			fmt.Errorf("%s: target weight must be between 0 and 1, got %f", o.Symbol, o.TargetWeight))
	}
	return nil
}
