package portfolio

import (
	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/shopspring/decimal"
)

// Translate turns a target weight into a share delta against the current
// holding. total is the account value before any trade in the batch and
// price is the execution price. The share delta truncates toward zero, so
// resubmitting a weight that is already met yields ActionHold.
func Translate(order core.Order, held int64, price, total decimal.Decimal) (core.Action, int64) {
	var delta int64
	if order.TargetWeight == 0 {
		delta = -held
	} else {
		target := total.Mul(decimal.NewFromFloat(order.TargetWeight))
		current := price.Mul(decimal.NewFromInt(held))
		delta = target.Sub(current).Div(price).Truncate(0).IntPart()
		if held+delta < 0 {
			delta = -held
		}
	}

	switch {
	case delta > 0 && held == 0:
		return core.ActionOpen, delta
	case delta > 0:
		return core.ActionRebalance, delta
	case delta < 0 && held+delta == 0:
		return core.ActionClose, delta
	case delta < 0:
		return core.ActionRebalance, delta
	default:
		return core.ActionHold, 0
	}
}
