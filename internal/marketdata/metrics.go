package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsBroadcastTotal counts snapshots broadcast per symbol and cause.
	SnapshotsBroadcastTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_marketdata_snapshots_broadcast_total",
			Help: "Normalized snapshots broadcast per symbol and trigger cause",
		},
		[]string{"symbol", "cause"},
	)

	// SnapshotsSkippedTotal counts merges that produced no snapshot.
	SnapshotsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_marketdata_snapshots_skipped_total",
			Help: "Merges skipped per symbol and reason",
		},
		[]string{"symbol", "reason"},
	)

	// StaleBooksTotal counts books dropped for exceeding the staleness bound.
	StaleBooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_marketdata_stale_books_total",
			Help: "Books dropped from merges for staleness per venue",
		},
		[]string{"venue"},
	)

	// QualityGauge exposes the latest quality score per symbol.
	QualityGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbiter_marketdata_quality",
			Help: "Latest snapshot quality score per symbol",
		},
		[]string{"symbol"},
	)

	// MergeDurationSeconds tracks per-merge latency.
	MergeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_marketdata_merge_duration_seconds",
		Help:    "Duration of one per-symbol merge",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3},
	})
)
