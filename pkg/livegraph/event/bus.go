package event

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// Bus provides pub/sub event distribution with fan-out support.
type Bus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, evt Event) error

	// Subscribe creates a subscription for specific event types.
	Subscribe(types []string, handler Handler) Subscription

	// SubscribeAll subscribes to all events.
	SubscribeAll(handler Handler) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe removes the subscription. Events still buffered for it
	// are discarded.
	Unsubscribe()

	// Pause temporarily stops delivery. Events arriving while paused are
	// discarded.
	Pause()

	// Resume continues delivery after pause.
	Resume()

	// IsPaused reports whether the subscription is paused.
	IsPaused() bool
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// BufferSize is the channel buffer size per subscription.
	// Default: 256
	BufferSize int

	// NonBlocking makes Publish drop events for subscribers whose buffer
	// is full instead of waiting.
	NonBlocking bool

	// OnDrop is called when an event is dropped (non-blocking mode).
	OnDrop func(evt Event, subscriberID string)

	// OnError is called when a handler returns an error.
	OnError func(evt Event, subscriberID string, err error)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	BufferSize: 256,
}

// LocalBus is an in-memory Bus.
//
// Each subscription has its own buffered queue drained by one goroutine, so
// a subscriber sees events in the order they were published. Handlers of
// different subscriptions run concurrently.
type LocalBus struct {
	config BusConfig

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	byType        map[string]map[string]*subscription
	wildcards     map[string]*subscription

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewBus creates a local event bus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	return &LocalBus{
		config:        config,
		subscriptions: make(map[string]*subscription),
		byType:        make(map[string]map[string]*subscription),
		wildcards:     make(map[string]*subscription),
		closeCh:       make(chan struct{}),
	}
}

type subscription struct {
	id      string
	types   []string
	handler Handler
	events  chan Event
	paused  atomic.Bool
	done    chan struct{}
	once    sync.Once
	bus     *LocalBus
}

// Publish sends evt to all matching subscribers. In blocking mode it waits
// for buffer space and gives up when ctx ends.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &EventError{Event: evt, Message: "publish", Err: ErrBusClosed}
	}

	b.mu.RLock()
	subs := b.matching(evt.Type())
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.paused.Load() {
			continue
		}

		if b.config.NonBlocking {
			select {
			case sub.events <- evt:
			case <-sub.done:
			default:
				if b.config.OnDrop != nil {
					b.config.OnDrop(evt, sub.id)
				}
			}
			continue
		}

		select {
		case sub.events <- evt:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return &EventError{Event: evt, Message: "publish", Err: ErrBusClosed}
		}
	}
	return nil
}

// Subscribe creates a subscription for specific event types. It returns nil
// on a closed bus.
func (b *LocalBus) Subscribe(types []string, handler Handler) Subscription {
	if sub := b.subscribe(types, handler); sub != nil {
		return sub
	}
	return nil
}

// SubscribeAll subscribes to all events. It returns nil on a closed bus.
func (b *LocalBus) SubscribeAll(handler Handler) Subscription {
	return b.Subscribe(nil, handler)
}

func (b *LocalBus) subscribe(types []string, handler Handler) *subscription {
	if b.closed.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      strconv.FormatInt(b.nextID.Add(1), 10),
		types:   types,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.subscriptions[sub.id] = sub

	if len(types) == 0 {
		b.wildcards[sub.id] = sub
	} else {
		for _, t := range types {
			if b.byType[t] == nil {
				b.byType[t] = make(map[string]*subscription)
			}
			b.byType[t][sub.id] = sub
		}
	}

	go sub.process()
	return sub
}

// matching returns the subscriptions for an event type. Caller holds mu.
func (b *LocalBus) matching(eventType string) []*subscription {
	subs := make([]*subscription, 0, len(b.wildcards)+len(b.byType[eventType]))
	for _, sub := range b.byType[eventType] {
		subs = append(subs, sub)
	}
	for _, sub := range b.wildcards {
		subs = append(subs, sub)
	}
	return subs
}

// Close shuts down the bus and stops every subscription.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscriptions {
		sub.stop()
	}
	return nil
}

func (s *subscription) process() {
	for {
		select {
		case evt := <-s.events:
			if s.paused.Load() {
				continue
			}
			if _, err := s.handler.Handle(context.Background(), evt); err != nil && s.bus.config.OnError != nil {
				s.bus.config.OnError(evt, s.id, err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subscriptions, s.id)
	delete(s.bus.wildcards, s.id)
	for _, t := range s.types {
		delete(s.bus.byType[t], s.id)
	}
	s.stop()
}

// Pause temporarily stops delivery.
func (s *subscription) Pause() {
	s.paused.Store(true)
}

// Resume continues delivery after pause.
func (s *subscription) Resume() {
	s.paused.Store(false)
}

// IsPaused reports whether the subscription is paused.
func (s *subscription) IsPaused() bool {
	return s.paused.Load()
}
