package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpportunitiesDetectedTotal counts emitted opportunities per strategy.
	OpportunitiesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_detector_opportunities_detected_total",
			Help: "Opportunities emitted per strategy kind",
		},
		[]string{"kind"},
	)

	// CandidatesFilteredTotal counts candidates dropped before emission.
	CandidatesFilteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_detector_candidates_filtered_total",
			Help: "Candidates filtered per strategy kind and reason",
		},
		[]string{"kind", "reason"},
	)

	// NetProfitBps tracks emitted net profit in basis points.
	NetProfitBps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_detector_net_profit_bps",
		Help:    "Net profit of emitted opportunities in basis points",
		Buckets: []float64{5, 10, 25, 50, 100, 200, 500, 1000},
	})

	// DetectionDurationSeconds tracks per-snapshot detection latency.
	DetectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_detector_detection_duration_seconds",
		Help:    "Duration of detection per snapshot",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3},
	})

	// BatchesComputedTotal counts engine batch invocations.
	BatchesComputedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_detector_batches_computed_total",
		Help: "Fixed-point engine batch invocations",
	})

	// BatchSize tracks candidates per batch.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_detector_batch_size",
		Help:    "Candidates per engine batch",
		Buckets: prometheus.ExponentialBuckets(2, 2, 10),
	})
)
