// Package indicator holds price-series helpers shared by strategies.
package indicator

// SMA returns the simple moving average of every full window of period
// prices, oldest first. The result has len(prices)-period+1 entries, or
// none when prices is shorter than period.
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}

	out := make([]float64, 0, len(prices)-period+1)
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA returns the exponential moving average seeded with the SMA of the
// first period prices. Its length matches SMA's.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}

	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(prices)-period+1)

	var seed float64
	for _, p := range prices[:period] {
		seed += p
	}
	ema := seed / float64(period)
	out = append(out, ema)

	for _, p := range prices[period:] {
		ema += (p - ema) * k
		out = append(out, ema)
	}
	return out
}

// ROC returns the rate of change between the first and last price,
// last/first - 1. ok is false when fewer than two prices exist or the
// first is not positive.
func ROC(prices []float64) (roc float64, ok bool) {
	if len(prices) < 2 || prices[0] <= 0 {
		return 0, false
	}
	return prices[len(prices)-1]/prices[0] - 1, true
}
