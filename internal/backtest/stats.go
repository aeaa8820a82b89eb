package backtest

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/newthinker/atlas-bt/internal/portfolio"
	"github.com/shopspring/decimal"
)

const tradingDaysPerYear = 252

// CalculateStats computes performance statistics from an equity curve
// that started at initial.
func CalculateStats(curve EquityCurve, initial decimal.Decimal, trades []portfolio.Trade, rejected int) Stats {
	s := Stats{
		TradingDays: curve.Len(),
		TotalTrades: len(trades),
		Rejected:    rejected,
	}
	var realized decimal.Decimal
	for _, t := range trades {
		if t.Partial {
			s.PartialFills++
		}
		realized = realized.Add(t.RealizedPL)
	}
	s.RealizedPL = realized.InexactFloat64()

	start := initial.InexactFloat64()
	if curve.Len() == 0 || start <= 0 {
		return s
	}

	values := append([]float64{start}, curve.Values()...)
	final := values[len(values)-1]

	s.FinalValue = final
	s.TotalReturn = (final/start - 1) * 100
	if final > 0 {
		years := float64(curve.Len()) / tradingDaysPerYear
		s.AnnualizedReturn = (math.Pow(final/start, 1/years) - 1) * 100
	}
	s.MaxDrawdown = calculateMaxDrawdown(values) * 100
	s.SharpeRatio = calculateSharpeRatio(dailyReturns(values))

	return s
}

func dailyReturns(values []float64) []float64 {
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	return returns
}

// calculateMaxDrawdown finds the largest peak-to-trough decline
func calculateMaxDrawdown(values []float64) float64 {
	var maxDD, peak float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// calculateSharpeRatio computes risk-adjusted return
// Assumes risk-free rate of 0 for simplicity
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	stdDev, err := stats.StandardDeviationSample(returns)
	if err != nil || stdDev == 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(tradingDaysPerYear)
}
