// Package eventbus broadcasts topology changes between netmap instances
// over NATS.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/config"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/telemetry"
	"github.com/netmap-platform/netmap/internal/topology"
)

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "netmap.events"

// NATSEventBus publishes and receives topology events on NATS core
// subjects of the form <prefix>.topology.<kind>.<action>.
type NATSEventBus struct {
	conn   *nats.Conn
	logger logging.Logger
	prefix string
	source string

	subMutex      sync.Mutex
	subscriptions []*nats.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

// Connect dials the configured NATS server. Every instance needs a
// distinct source so it can recognise its own events.
func Connect(cfg config.EventBusConfig, logger logging.Logger) (*NATSEventBus, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("eventbus: url is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("eventbus")
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	name := cfg.Name
	if name == "" {
		name = "netmap"
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &NATSEventBus{
		logger: logger,
		prefix: prefix,
		source: name + "-" + uuid.NewString()[:8],
		ctx:    ctx,
		cancel: cancel,
	}

	opts := []nats.Option{
		nats.Name(bus.source),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn(ctx, "NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "NATS connection closed")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	bus.conn = conn

	logger.Info(ctx, "Connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("source", bus.source),
		zap.String("prefix", prefix))
	return bus, nil
}

// Source identifies this instance in published events
func (n *NATSEventBus) Source() string { return n.source }

// Subject returns the subject event is published on
func (n *NATSEventBus) Subject(event *Event) string {
	return fmt.Sprintf("%s.topology.%s.%s", n.prefix, subjectToken(string(event.Kind)), subjectToken(string(event.Action)))
}

// PublishEvent sends event to every subscriber
func (n *NATSEventBus) PublishEvent(ctx context.Context, event *Event) error {
	subject := n.Subject(event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error(ctx, "Failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	telemetry.IncrementCounter(ctx, "netmap_events_published_total", attribute.String("type", string(event.Type)))
	n.logger.Debug(ctx, "Published event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject", subject))
	return nil
}

// TopologyChanged publishes a committed change
func (n *NATSEventBus) TopologyChanged(ctx context.Context, c topology.Change) error {
	return n.PublishEvent(ctx, NewEvent(n.source, c).WithTraceID(ctx))
}

// SubscribeTopology delivers every topology event of every tenant to
// handler, including this instance's own.
func (n *NATSEventBus) SubscribeTopology(handler EventHandler) error {
	subject := n.prefix + ".topology.>"
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			n.logger.Warn(n.ctx, "Dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := handler.Handle(n.ctx, &event); err != nil {
			n.logger.Error(n.ctx, "Failed to handle event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to register subscription: %w", err)
	}

	n.subMutex.Lock()
	n.subscriptions = append(n.subscriptions, sub)
	n.subMutex.Unlock()

	n.logger.Info(n.ctx, "Subscribed to topology events", zap.String("subject", subject))
	return nil
}

// Healthy reports whether the connection is usable
func (n *NATSEventBus) Healthy() error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats: %s", n.conn.Status())
	}
	return nil
}

// Close drains subscriptions and closes the connection
func (n *NATSEventBus) Close() error {
	n.logger.Info(n.ctx, "Closing NATS EventBus")
	n.subMutex.Lock()
	for _, sub := range n.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn(n.ctx, "Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	n.subscriptions = nil
	n.subMutex.Unlock()

	n.cancel()
	n.conn.Close()
	return nil
}
