package fabric

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bridge mirrors selected fabric topics onto a NATS connection so that
// out-of-process consumers (observability, audit, a remote risk console) see
// the same traffic. Outbound only by default; inbound subjects are opt-in so
// the hot path cannot be flooded from outside.
type Bridge struct {
	fabric *Fabric
	conn   *nats.Conn
	codec  Codec
	logger *zap.Logger
	subs   []*nats.Subscription
	cancel context.CancelFunc
}

// BridgeConfig holds NATS bridge configuration.
type BridgeConfig struct {
	URL    string
	Codec  Codec
	Logger *zap.Logger
}

// NewBridge connects to NATS. Reconnection is delegated to the NATS client.
func NewBridge(fabric *Fabric, cfg BridgeConfig) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name("arbiter-fabric"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			cfg.Logger.Warn("nats-disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			cfg.Logger.Info("nats-reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Bridge{
		fabric: fabric,
		conn:   conn,
		codec:  cfg.Codec,
		logger: cfg.Logger,
	}, nil
}

// MirrorOut forwards every message published on the given fabric topics to
// NATS subjects of the same name.
func (b *Bridge) MirrorOut(ctx context.Context, topics ...string) {
	ctx, b.cancel = context.WithCancel(ctx)

	for _, topic := range topics {
		ch := b.fabric.Subscribe(topic)
		go func(topic string, ch <-chan Envelope) {
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-ch:
					if !ok {
						return
					}
					data, err := b.codec.Marshal(env.Payload)
					if err != nil {
						b.logger.Warn("bridge-encode-failed",
							zap.String("topic", topic), zap.Error(err))
						continue
					}
					if err := b.conn.Publish(topic, data); err != nil {
						b.logger.Warn("bridge-publish-failed",
							zap.String("topic", topic), zap.Error(err))
						continue
					}
					BridgeMessagesOutTotal.WithLabelValues(topic).Inc()
				}
			}
		}(topic, ch)
	}
}

// MirrorIn republishes a NATS subject onto the local fabric, decoding into
// the value produced by newPayload. Used for fee/precision/threshold updates
// arriving from the configuration plane.
func (b *Bridge) MirrorIn(ctx context.Context, subject string, newPayload func() any) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		payload := newPayload()
		if err := b.codec.Unmarshal(msg.Data, payload); err != nil {
			b.logger.Warn("bridge-decode-failed",
				zap.String("subject", subject), zap.Error(err))
			return
		}
		if err := b.fabric.Publish(ctx, subject, payload); err != nil {
			b.logger.Warn("bridge-republish-failed",
				zap.String("subject", subject), zap.Error(err))
			return
		}
		BridgeMessagesInTotal.WithLabelValues(subject).Inc()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	b.subs = append(b.subs, sub)
	b.logger.Info("bridge-mirroring-in", zap.String("subject", subject))
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *Bridge) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.conn.Close()
	b.logger.Info("bridge-closed")
}
