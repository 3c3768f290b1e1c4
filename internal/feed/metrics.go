package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedGauge is 1 while a venue feed is connected.
	ConnectedGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbiter_feed_connected",
			Help: "Whether the venue WebSocket is connected",
		},
		[]string{"venue"},
	)

	// StateGauge exposes the connection state machine position.
	StateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbiter_feed_state",
			Help: "Feed connection state (0 disconnected, 1 connecting, 2 subscribed, 3 backoff)",
		},
		[]string{"venue"},
	)

	// BooksPublishedTotal counts validated books handed to the aggregator.
	BooksPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_feed_books_published_total",
			Help: "Validated order books published per venue",
		},
		[]string{"venue"},
	)

	// InvalidBooksTotal counts books dropped by validation.
	InvalidBooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_feed_invalid_books_total",
			Help: "Books dropped for failing validation per venue",
		},
		[]string{"venue"},
	)

	// MalformedMessagesTotal counts undecodable frames.
	MalformedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_feed_malformed_messages_total",
			Help: "Frames dropped as malformed per venue",
		},
		[]string{"venue"},
	)

	// MessagesDroppedTotal counts events shed on full buffers.
	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_feed_messages_dropped_total",
			Help: "Events dropped per venue and reason",
		},
		[]string{"venue", "reason"},
	)

	// SequenceGapsTotal counts detected sequence gaps.
	SequenceGapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_feed_sequence_gaps_total",
			Help: "Sequence gaps that triggered a REST resync",
		},
		[]string{"venue"},
	)

	// ResyncsTotal counts REST resyncs by outcome.
	ResyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_feed_resyncs_total",
			Help: "REST snapshot resyncs per venue and outcome",
		},
		[]string{"venue", "outcome"},
	)

	// ReconnectAttemptsTotal counts reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_feed_reconnect_attempts_total",
		Help: "WebSocket reconnection attempts",
	})

	// ReconnectFailuresTotal counts failed reconnection attempts.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_feed_reconnect_failures_total",
		Help: "WebSocket reconnection failures",
	})
)
