// Package fabric is the in-process messaging layer between the hot-path
// subsystems: typed topics with bounded queues and at-most-once delivery.
// Snapshots and other non-critical traffic shed oldest-first under overflow;
// execution intents and risk traffic are never dropped — publishers block,
// which is the back-pressure signal.
package fabric

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names. Snapshot topics are per-symbol; use SnapshotTopic.
const (
	TopicOpportunity     = "opportunity.detected"
	TopicRiskRequest     = "risk.request"
	TopicRiskReply       = "risk.reply"
	TopicExecutionIntent = "execution.intent"
	TopicExecutionAck    = "execution.ack"
	TopicFeeUpdate       = "fee.update"
	TopicPrecisionUpdate = "precision.update"
	TopicThresholdUpdate = "threshold.update"
	TopicHealthPing      = "health.ping"
	TopicHealthPong      = "health.pong"
	TopicEmergency       = "risk.emergency"

	snapshotPrefix = "snapshot."
)

// SnapshotTopic returns the per-symbol snapshot topic, e.g. "snapshot.BTC/USDT".
func SnapshotTopic(symbol string) string { return snapshotPrefix + symbol }

// criticalTopics never shed messages; publishers block instead.
var criticalTopics = map[string]bool{
	TopicExecutionIntent: true,
	TopicExecutionAck:    true,
	TopicRiskRequest:     true,
	TopicRiskReply:       true,
	TopicEmergency:       true,
}

// Envelope wraps a payload with routing and tracing metadata.
type Envelope struct {
	Topic          string
	TraceID        string
	IdempotencyKey string
	ReplyTo        string
	Deadline       time.Time
	Payload        any
}

// Fabric is the in-process broker. A single instance threads all subsystems.
type Fabric struct {
	logger     *zap.Logger
	queueDepth int

	mu      sync.RWMutex
	subs    map[string][]chan Envelope
	pending map[string]chan Envelope // reply inbox id -> waiter
}

// Config holds fabric configuration.
type Config struct {
	QueueDepth int
	Logger     *zap.Logger
}

// New creates a fabric with bounded per-subscriber queues.
func New(cfg Config) *Fabric {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1024
	}
	return &Fabric{
		logger:     cfg.Logger,
		queueDepth: depth,
		subs:       make(map[string][]chan Envelope),
		pending:    make(map[string]chan Envelope),
	}
}

// Subscribe registers a bounded subscription to a topic. The returned channel
// is owned by the fabric; consumers range over it until Close.
func (f *Fabric) Subscribe(topic string) <-chan Envelope {
	ch := make(chan Envelope, f.queueDepth)

	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()

	f.logger.Debug("fabric-subscribed", zap.String("topic", topic))
	return ch
}

// Publish delivers an envelope to every subscriber, at most once each. For
// non-critical topics a full queue sheds its oldest message; critical topics
// block the publisher until space frees or ctx expires.
func (f *Fabric) Publish(ctx context.Context, topic string, payload any) error {
	return f.publish(ctx, Envelope{
		Topic:   topic,
		TraceID: uuid.NewString(),
		Payload: payload,
	})
}

// PublishEnvelope delivers a pre-built envelope (used for replies and for
// messages carrying idempotency keys or deadlines).
func (f *Fabric) PublishEnvelope(ctx context.Context, env Envelope) error {
	if env.TraceID == "" {
		env.TraceID = uuid.NewString()
	}
	return f.publish(ctx, env)
}

func (f *Fabric) publish(ctx context.Context, env Envelope) error {
	// Reply envelopes route to a pending request inbox, not a topic.
	if strings.HasPrefix(env.Topic, "_inbox.") {
		f.mu.RLock()
		waiter, ok := f.pending[env.Topic]
		f.mu.RUnlock()
		if !ok {
			MessagesDroppedTotal.WithLabelValues(env.Topic, "no_waiter").Inc()
			return nil
		}
		select {
		case waiter <- env:
		default:
			// Waiter already satisfied or timed out.
			MessagesDroppedTotal.WithLabelValues(env.Topic, "stale_reply").Inc()
		}
		return nil
	}

	f.mu.RLock()
	subs := f.subs[env.Topic]
	f.mu.RUnlock()

	if len(subs) == 0 {
		MessagesDroppedTotal.WithLabelValues(env.Topic, "no_subscriber").Inc()
		return nil
	}

	critical := criticalTopics[env.Topic]
	for _, ch := range subs {
		if critical {
			select {
			case ch <- env:
			case <-ctx.Done():
				return fmt.Errorf("publish %s: %w", env.Topic, ctx.Err())
			}
		} else {
			select {
			case ch <- env:
			default:
				// Shed the oldest message to make room for the newest.
				select {
				case <-ch:
					MessagesDroppedTotal.WithLabelValues(env.Topic, "overflow").Inc()
				default:
				}
				select {
				case ch <- env:
				default:
					MessagesDroppedTotal.WithLabelValues(env.Topic, "overflow").Inc()
					continue
				}
			}
		}
		MessagesPublishedTotal.WithLabelValues(env.Topic).Inc()
	}

	return nil
}

// Request publishes on a topic and waits for a single reply or the timeout.
func (f *Fabric) Request(ctx context.Context, topic string, payload any, timeout time.Duration) (Envelope, error) {
	inbox := "_inbox." + uuid.NewString()
	waiter := make(chan Envelope, 1)

	f.mu.Lock()
	f.pending[inbox] = waiter
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.pending, inbox)
		f.mu.Unlock()
	}()

	env := Envelope{
		Topic:   topic,
		TraceID: uuid.NewString(),
		ReplyTo: inbox,
		Payload: payload,
	}
	if err := f.publish(ctx, env); err != nil {
		return Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-waiter:
		return reply, nil
	case <-timer.C:
		RequestTimeoutsTotal.WithLabelValues(topic).Inc()
		return Envelope{}, fmt.Errorf("request %s: timeout after %s", topic, timeout)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Reply answers a request envelope on its reply inbox.
func (f *Fabric) Reply(ctx context.Context, req Envelope, payload any) error {
	if req.ReplyTo == "" {
		return fmt.Errorf("reply to %s: envelope has no reply inbox", req.Topic)
	}
	return f.publish(ctx, Envelope{
		Topic:   req.ReplyTo,
		TraceID: req.TraceID,
		Payload: payload,
	})
}

// Close tears down all subscriptions.
func (f *Fabric) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for topic, chans := range f.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(f.subs, topic)
	}
	f.logger.Info("fabric-closed")
}
