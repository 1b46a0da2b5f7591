// Package event provides in-process publish/subscribe for livegraph.
//
// Graphs publish one event per applied structural change; editors, caches
// and other collaborators subscribe to keep themselves in step with the
// graph. Events carry correlation and causation ids so the changes produced
// by one mutation (for example a node removal and the edges it took along)
// can be grouped.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the interface for everything published on a Bus.
// Events are immutable once created.
type Event interface {
	ID() string
	// Type names the event, e.g. "graph.node_added".
	Type() string
	// Source names the publisher, e.g. a graph id.
	Source() string

	// CorrelationID groups events produced by one operation.
	CorrelationID() string
	// CausationID is the id of the event that directly preceded this one
	// within its correlation group.
	CausationID() string

	Timestamp() time.Time
	Data() any
}

// Metadata contains the common event fields.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// BaseEvent is the generic Event implementation.
// T is the payload type for type-safe access.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string { return e.Meta.EventID }

// Type returns the event type.
func (e *BaseEvent[T]) Type() string { return e.Meta.EventType }

// Source returns the event source.
func (e *BaseEvent[T]) Source() string { return e.Meta.EventSource }

// CorrelationID returns the correlation id.
func (e *BaseEvent[T]) CorrelationID() string { return e.Meta.CorrelationID }

// CausationID returns the id of the causing event.
func (e *BaseEvent[T]) CausationID() string { return e.Meta.CausationID }

// Timestamp returns when the event occurred.
func (e *BaseEvent[T]) Timestamp() time.Time { return e.Meta.Timestamp }

// Data returns the payload.
func (e *BaseEvent[T]) Data() any { return e.Payload }

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T { return e.Payload }

// EventOption configures event creation.
type EventOption func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	causationID   string
	timestamp     time.Time
}

// WithEventID sets a specific event id (default: a new UUID).
func WithEventID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation id.
func WithCorrelationID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the id of the causing event.
func WithCausationID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) EventOption {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates an event with the given type, source and payload. Without a
// correlation id the event starts its own group.
func New[T any](eventType, source string, payload T, opts ...EventOption) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &BaseEvent[T]{
		Meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   source,
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			Timestamp:     cfg.timestamp,
		},
		Payload: payload,
	}
}

// NewFromParent creates an event caused by parent, inheriting its
// correlation id.
func NewFromParent[T any](parent Event, eventType, source string, payload T, opts ...EventOption) *BaseEvent[T] {
	all := append([]EventOption{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}, opts...)
	return New(eventType, source, payload, all...)
}

// Handler processes events.
type Handler interface {
	// Handle processes an event. Returned events are derived events; the
	// bus does not republish them.
	Handle(ctx context.Context, evt Event) ([]Event, error)

	// Handles returns the event types this handler processes.
	// An empty slice means all types.
	Handles() []string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) ([]Event, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) ([]Event, error) {
	return f(ctx, evt)
}

// Handles returns nil (all event types).
func (f HandlerFunc) Handles() []string {
	return nil
}

// TypedHandler wraps a function handling a specific payload type. Events
// whose payload is not a T fail with an *EventError.
func TypedHandler[T any](
	eventTypes []string,
	fn func(ctx context.Context, payload T, meta Metadata) ([]Event, error),
) Handler {
	return &typedHandler[T]{eventTypes: eventTypes, fn: fn}
}

type typedHandler[T any] struct {
	eventTypes []string
	fn         func(ctx context.Context, payload T, meta Metadata) ([]Event, error)
}

func (h *typedHandler[T]) Handle(ctx context.Context, evt Event) ([]Event, error) {
	payload, ok := evt.Data().(T)
	if !ok {
		return nil, &EventError{Event: evt, Message: "unexpected payload type"}
	}
	meta := Metadata{
		EventID:       evt.ID(),
		EventType:     evt.Type(),
		EventSource:   evt.Source(),
		CorrelationID: evt.CorrelationID(),
		CausationID:   evt.CausationID(),
		Timestamp:     evt.Timestamp(),
	}
	return h.fn(ctx, payload, meta)
}

func (h *typedHandler[T]) Handles() []string {
	return h.eventTypes
}
