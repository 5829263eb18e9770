// Package events distributes core lifecycle events to in-process
// subscribers. Delivery is best effort: a slow subscriber loses events
// rather than stalling publishers.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventBus distributes events to filtered subscribers.
//
// All methods are safe for concurrent use. Publish never blocks on slow
// subscribers: each subscription has its own buffered channel, and events
// are dropped per subscriber when that buffer is full.
type EventBus interface {
	// Publish sends an event to all matching subscribers. It returns an
	// error only when the bus is closed.
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a filtered subscription. The returned cleanup
	// function must be called to release the subscription.
	Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func())

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// DefaultEventBus implements EventBus with per-subscriber buffered
// channels and non-blocking sends.
type DefaultEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	options     *busOptions
	closed      bool
}

type subscription struct {
	id      string
	ch      chan Event
	filter  Filter
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
}

type busOptions struct {
	defaultBufferSize int
	dropHandler       DropHandler
}

// DropHandler is called when an event is dropped for a slow subscriber.
type DropHandler func(event Event, subscriberID string)

// Option configures a DefaultEventBus.
type Option func(*busOptions)

// WithDefaultBufferSize sets the buffer size used when Subscribe is
// called with bufferSize <= 0. Default: 100.
func WithDefaultBufferSize(size int) Option {
	return func(opts *busOptions) {
		if size > 0 {
			opts.defaultBufferSize = size
		}
	}
}

// WithDropHandler sets the handler invoked for dropped events.
func WithDropHandler(handler DropHandler) Option {
	return func(opts *busOptions) {
		if handler != nil {
			opts.dropHandler = handler
		}
	}
}

// NewEventBus creates an event bus.
func NewEventBus(opts ...Option) *DefaultEventBus {
	options := &busOptions{
		defaultBufferSize: 100,
		dropHandler:       func(Event, string) {},
	}
	for _, opt := range opts {
		opt(options)
	}

	return &DefaultEventBus{
		subscribers: make(map[string]*subscription),
		options:     options,
	}
}

// Publish sends the event to every subscriber whose filter matches.
func (eb *DefaultEventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range eb.subscribers {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}

		if !sub.filter.Matches(event) {
			continue
		}

		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			sub.dropped.Add(1)
			eb.options.dropHandler(event, sub.id)
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber.
func (eb *DefaultEventBus) Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if bufferSize <= 0 {
		bufferSize = eb.options.defaultBufferSize
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     generateSubscriberID(),
		ch:     make(chan Event, bufferSize),
		filter: filter,
		ctx:    subCtx,
		cancel: cancel,
	}
	eb.subscribers[sub.id] = sub

	return sub.ch, func() { eb.unsubscribe(sub.id) }
}

func (eb *DefaultEventBus) unsubscribe(id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[id]
	if !ok {
		return
	}
	sub.cancel()
	close(sub.ch)
	delete(eb.subscribers, id)
}

// Close shuts down the bus; idempotent.
func (eb *DefaultEventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return nil
	}
	eb.closed = true

	for id, sub := range eb.subscribers {
		sub.cancel()
		close(sub.ch)
		delete(eb.subscribers, id)
	}
	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (eb *DefaultEventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

var subscriberCounter atomic.Uint64

func generateSubscriberID() string {
	return fmt.Sprintf("sub-%d-%d", time.Now().UnixNano(), subscriberCounter.Add(1))
}

var _ EventBus = (*DefaultEventBus)(nil)
