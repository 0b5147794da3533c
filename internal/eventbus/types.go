package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/netmap-platform/netmap/internal/topology"
)

// EventType is the subject suffix of an event, e.g. "topology.zone.updated".
type EventType string

// TopologyEventType builds the event type for a topology change
func TopologyEventType(kind topology.EntityKind, action topology.Action) EventType {
	return EventType(fmt.Sprintf("topology.%s.%s", kind, action))
}

// Event is the envelope published for every committed topology change.
type Event struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	Source    string              `json:"source"`
	Tenant    string              `json:"tenant"`
	Kind      topology.EntityKind `json:"kind"`
	EntityID  string              `json:"entity_id,omitempty"`
	Action    topology.Action     `json:"action"`
	TraceID   string              `json:"trace_id,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Version   string              `json:"version"`
}

// NewEvent creates an event for c emitted by source
func NewEvent(source string, c topology.Change) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      TopologyEventType(c.Kind, c.Action),
		Source:    source,
		Tenant:    c.Tenant,
		Kind:      c.Kind,
		EntityID:  c.EntityID,
		Action:    c.Action,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
	}
}

// WithTraceID adds the trace of ctx to the event, if any
func (e *Event) WithTraceID(ctx context.Context) *Event {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		e.TraceID = sc.TraceID().String()
	}
	return e
}

// Change converts the event back into a topology change
func (e *Event) Change() topology.Change {
	return topology.Change{Tenant: e.Tenant, Kind: e.Kind, EntityID: e.EntityID, Action: e.Action}
}

// EventHandler handles one received event
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// EventHandlerFunc is a function adapter for EventHandler
type EventHandlerFunc func(ctx context.Context, event *Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// subjectToken makes s safe as a single NATS subject token
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
