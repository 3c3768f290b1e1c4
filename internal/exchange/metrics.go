package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDurationSeconds tracks venue REST latency.
	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbiter_exchange_request_duration_seconds",
			Help:    "Venue REST request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"venue", "path"},
	)

	// RequestErrorsTotal counts venue REST failures by kind.
	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_exchange_request_errors_total",
			Help: "Venue REST request failures",
		},
		[]string{"venue", "kind"},
	)

	// OrdersPlacedTotal counts order submissions per venue and outcome.
	OrdersPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_exchange_orders_placed_total",
			Help: "Order submissions per venue and outcome",
		},
		[]string{"venue", "outcome"},
	)
)
