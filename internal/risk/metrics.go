package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts decisions by outcome or rejection reason.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_risk_decisions_total",
			Help: "Risk decisions by outcome",
		},
		[]string{"outcome"},
	)

	// ResultsTotal counts recorded execution results by status.
	ResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_risk_results_total",
			Help: "Execution results recorded by status",
		},
		[]string{"status"},
	)

	// DuplicateResultsTotal counts results ignored by execution UUID.
	DuplicateResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_risk_duplicate_results_total",
		Help: "Execution results ignored as duplicates",
	})

	// DayPnLGauge is the current daily PnL.
	DayPnLGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_risk_day_pnl",
		Help: "Daily realized PnL",
	})

	// FailureStreakGauge is the consecutive-failure count.
	FailureStreakGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_risk_failure_streak",
		Help: "Consecutive failed executions",
	})

	// ExposureGauge is the in-flight capital per strategy.
	ExposureGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbiter_risk_exposure",
			Help: "In-flight capital per strategy kind",
		},
		[]string{"kind"},
	)

	// RiskScoreGauge is the latest composite risk score.
	RiskScoreGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_risk_score",
		Help: "Latest composite risk score",
	})

	// EmergencyStopGauge is 1 while the latch is set.
	EmergencyStopGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_risk_emergency_stop",
		Help: "Whether the emergency stop is latched",
	})

	// EmergencyStopsTotal counts latch transitions.
	EmergencyStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_risk_emergency_stops_total",
		Help: "Emergency stop latch transitions",
	})

	// EvaluationDurationSeconds tracks gate evaluation latency.
	EvaluationDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_risk_evaluation_duration_seconds",
		Help:    "Duration of one risk evaluation",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4},
	})
)
