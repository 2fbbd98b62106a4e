package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// EventBus defines the interface for the event bus system
type EventBus interface {
	// Publish publishes an event, blocking until queued.
	Publish(ctx context.Context, event Event) error

	// PublishAsync publishes an event without blocking; events are dropped
	// with a warning when the buffer is full.
	PublishAsync(event Event)

	// Subscribe registers a handler for events matching the filter.
	Subscribe(subscriber string, filter EventFilter, handler EventHandler) *Subscription

	// Unsubscribe removes a subscription
	Unsubscribe(subscriptionID string)

	// Start starts the dispatch loop
	Start(ctx context.Context) error

	// Stop stops the event bus gracefully
	Stop(ctx context.Context) error
}

// Bus is the in-memory EventBus implementation. Dispatch is single-goroutine
// so subscribers observe events in publish order.
type Bus struct {
	logger hclog.Logger

	queue chan Event

	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	started bool
	done    chan struct{}
}

// NewBus creates an event bus with the given buffer size.
func NewBus(logger hclog.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Bus{
		logger:        logger.Named("events"),
		queue:         make(chan Event, bufferSize),
		subscriptions: make(map[string]*Subscription),
		done:          make(chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, event Event) error {
	fillDefaults(&event)
	select {
	case b.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) PublishAsync(event Event) {
	fillDefaults(&event)
	select {
	case b.queue <- event:
	default:
		b.logger.Warn("event buffer full, dropping event", "type", event.Type, "source", event.Source)
	}
}

func (b *Bus) Subscribe(subscriber string, filter EventFilter, handler EventHandler) *Subscription {
	sub := &Subscription{
		ID:         uuid.NewString(),
		Filter:     filter,
		Handler:    handler,
		Subscriber: subscriber,
		Created:    time.Now(),
	}

	b.mu.Lock()
	b.subscriptions[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscription added", "id", sub.ID, "subscriber", subscriber)
	return sub
}

func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	delete(b.subscriptions, subscriptionID)
	b.mu.Unlock()
}

func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("event bus already started")
	}
	b.started = true
	b.mu.Unlock()

	go b.dispatchLoop(ctx)
	return nil
}

func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	close(b.done)
	return nil
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case event := <-b.queue:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.Filter.Matches(event) {
			continue
		}
		if err := sub.Handler(event); err != nil {
			b.logger.Warn("event handler failed",
				"subscriber", sub.Subscriber,
				"type", event.Type,
				"error", err)
		}
	}
}

func fillDefaults(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Priority == 0 {
		event.Priority = PriorityNormal
	}
	if event.Data == nil {
		event.Data = make(map[string]interface{})
	}
}
