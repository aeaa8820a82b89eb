package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
	daysSimulated    prometheus.Counter
	ordersTotal      *prometheus.CounterVec
	tradesTotal      *prometheus.CounterVec
	partialFills     prometheus.Counter
	ordersRejected   prometheus.Counter
	equityValue      prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		backtestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlasbt_backtests_total",
				Help: "Total number of backtest runs by final state",
			},
			[]string{"status"},
		),
		backtestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "atlasbt_backtest_duration_seconds",
				Help:    "Backtest run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		daysSimulated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasbt_days_simulated_total",
				Help: "Total number of trading days simulated",
			},
		),
		ordersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlasbt_orders_total",
				Help: "Total number of classified orders by action",
			},
			[]string{"action"},
		),
		tradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlasbt_trades_total",
				Help: "Total number of executed trades by action",
			},
			[]string{"action"},
		),
		partialFills: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasbt_partial_fills_total",
				Help: "Total number of buys cut down for lack of cash",
			},
		),
		ordersRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasbt_orders_rejected_total",
				Help: "Total number of orders that produced no trade",
			},
		),
		equityValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlasbt_equity_value",
				Help: "Account value at the latest simulated date",
			},
		),
	}

	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.daysSimulated)
	reg.MustRegister(r.ordersTotal)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.partialFills)
	reg.MustRegister(r.ordersRejected)
	reg.MustRegister(r.equityValue)

	return r
}

// RecordBacktest records a backtest completion.
func (r *Registry) RecordBacktest(status string, duration float64) {
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
}

// RecordDay records one simulated date and the equity it closed at.
func (r *Registry) RecordDay(equity float64) {
	r.daysSimulated.Inc()
	r.equityValue.Set(equity)
}

// RecordOrder records a classified order, hold included.
func (r *Registry) RecordOrder(action string) {
	r.ordersTotal.WithLabelValues(action).Inc()
}

// RecordTrade records an executed trade.
func (r *Registry) RecordTrade(action string, partial bool) {
	r.tradesTotal.WithLabelValues(action).Inc()
	if partial {
		r.partialFills.Inc()
	}
}

// RecordRejection records an order that was not executed.
func (r *Registry) RecordRejection() {
	r.ordersRejected.Inc()
}

// WriteTextfile dumps the registry in the text exposition format, for
// node_exporter's textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry)
}
