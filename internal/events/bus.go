// Package events provides an in-process event bus for decoupled communication.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type represents the type of event.
type Type string

// Event types for the refresh pipeline.
const (
	// SystemStarted indicates the system has started.
	SystemStarted Type = "system.started"
	// ClientConnected indicates a backend client logged in.
	ClientConnected Type = "client.connected"

	// StatsUpdated indicates a refresh cycle produced a new result from fresh data.
	StatsUpdated Type = "stats.updated"
	// RestartDetected indicates the backend counters went backward and the
	// cycle reused the previous snapshot.
	RestartDetected Type = "stats.restart_detected"
	// UpdateFailed indicates a refresh cycle failed with a transient error.
	UpdateFailed Type = "stats.update_failed"
	// AuthFailed indicates the backend rejected the credentials. Automatic
	// refreshes stop until the client is resumed.
	AuthFailed Type = "stats.auth_failed"
	// ClientResumed indicates automatic refreshes were re-enabled after an auth failure.
	ClientResumed Type = "client.resumed"
)

// Event represents an event in the system.
// Client is the name of the backend the event is about (empty for system events).
// Subject optionally carries the primary value, e.g. the *stats.Result of a cycle.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Client    string         `json:"client,omitempty"`
	Subject   any            `json:"-"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscription is a channel that receives events.
type Subscription <-chan Event

// subscriberEntry tracks a subscriber and its filter.
type subscriberEntry struct {
	ch     chan Event
	types  map[Type]bool // nil means all events
	closed bool
}

// Bus is an in-process event bus that supports pub/sub.
type Bus struct {
	subscribers []*subscriberEntry
	mu          sync.RWMutex
	logger      zerolog.Logger
	bufferSize  int
}

// Option is a functional option for configuring the bus.
type Option func(*Bus)

// WithLogger sets the logger for the bus.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

// Default buffer size for subscriber channels.
const defaultBufferSize = 100

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:     zerolog.Nop(),
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe creates a subscription for specific event types.
// If no types are provided, the subscription receives all events.
func (b *Bus) Subscribe(types ...Type) Subscription {
	ch := make(chan Event, b.bufferSize)

	entry := &subscriberEntry{
		ch: ch,
	}

	if len(types) > 0 {
		entry.types = make(map[Type]bool, len(types))
		for _, t := range types {
			entry.types[t] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, entry)
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.subscribers {
		if entry.ch == sub {
			if !entry.closed {
				close(entry.ch)
				entry.closed = true
			}
			// Remove from slice
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all matching subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range b.subscribers {
		if entry.closed {
			continue
		}

		// Check if subscriber wants this event type
		if entry.types != nil && !entry.types[event.Type] {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case entry.ch <- event:
		default:
			b.logger.Warn().
				Str("type", string(event.Type)).
				Msg("event dropped - subscriber buffer full")
		}
	}

	b.logger.Debug().
		Str("type", string(event.Type)).
		Str("client", event.Client).
		Msg("event published")
}

// Close closes all subscriber channels and cleans up.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, entry := range b.subscribers {
		if !entry.closed {
			close(entry.ch)
			entry.closed = true
		}
	}
	b.subscribers = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
