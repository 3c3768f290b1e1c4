package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SizeGauge is the current pool size.
	SizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_pool_size",
		Help: "Live opportunities in the pool",
	})

	// RejectionsTotal counts admission rejections by reason.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_pool_rejections_total",
			Help: "Admission rejections by reason",
		},
		[]string{"reason"},
	)

	// EvictionsTotal counts removals by cause.
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_pool_evictions_total",
			Help: "Entries removed by cause",
		},
		[]string{"cause"},
	)

	// TakenTotal counts destructive takes per strategy kind.
	TakenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_pool_taken_total",
			Help: "Opportunities taken per strategy kind",
		},
		[]string{"kind"},
	)

	// WeightGauge exposes the current scoring weights.
	WeightGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbiter_pool_weight",
			Help: "Current composite-score weight per component",
		},
		[]string{"component"},
	)

	// FeedbackRecordsTotal counts recorded execution results by status.
	FeedbackRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_pool_feedback_records_total",
			Help: "Execution results recorded for weight adaptation",
		},
		[]string{"status"},
	)

	// FeedbackDuplicatesTotal counts duplicate execution results ignored.
	FeedbackDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_pool_feedback_duplicates_total",
		Help: "Duplicate execution results ignored by UUID",
	})
)
