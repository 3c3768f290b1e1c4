package fabric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublishedTotal counts deliveries per topic.
	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_fabric_messages_published_total",
			Help: "Total messages delivered to subscribers per topic",
		},
		[]string{"topic"},
	)

	// MessagesDroppedTotal counts shed or undeliverable messages by reason.
	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_fabric_messages_dropped_total",
			Help: "Total messages dropped per topic and reason",
		},
		[]string{"topic", "reason"},
	)

	// RequestTimeoutsTotal counts request-reply timeouts per topic.
	RequestTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_fabric_request_timeouts_total",
			Help: "Total request-reply exchanges that timed out",
		},
		[]string{"topic"},
	)

	// BridgeMessagesOutTotal counts messages mirrored out to NATS.
	BridgeMessagesOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_fabric_bridge_out_total",
			Help: "Total messages mirrored from the fabric to NATS",
		},
		[]string{"topic"},
	)

	// BridgeMessagesInTotal counts messages mirrored in from NATS.
	BridgeMessagesInTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_fabric_bridge_in_total",
			Help: "Total messages mirrored from NATS onto the fabric",
		},
		[]string{"subject"},
	)
)
