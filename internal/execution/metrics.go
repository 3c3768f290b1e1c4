package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal counts dispatch-loop outcomes.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_execution_dispatches_total",
			Help: "Dispatch loop outcomes",
		},
		[]string{"outcome"},
	)

	// ExecutionsTotal counts executions by terminal status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_execution_executions_total",
			Help: "Executions by terminal status",
		},
		[]string{"status"},
	)

	// LegFailuresTotal counts leg failures per venue and error class.
	LegFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_execution_leg_failures_total",
			Help: "Leg failures per venue and error class",
		},
		[]string{"venue", "class"},
	)

	// CancelsTotal counts deadline cancels per venue.
	CancelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_execution_cancels_total",
			Help: "Orders cancelled at the deadline per venue",
		},
		[]string{"venue"},
	)

	// ExecutionDurationSeconds tracks end-to-end execution latency.
	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_execution_duration_seconds",
		Help:    "End-to-end execution latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)
