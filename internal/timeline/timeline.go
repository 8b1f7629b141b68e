// Package timeline keeps a bounded in-memory history of refresh cycles.
package timeline

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// EventType represents the type of timeline event.
type EventType string

// Event types for the timeline.
const (
	EventSystemStarted   EventType = "system_started"
	EventConnected       EventType = "connected"
	EventUpdated         EventType = "updated"
	EventRestartDetected EventType = "restart_detected"
	EventUpdateFailed    EventType = "update_failed"
	EventAuthFailed      EventType = "auth_failed"
	EventResumed         EventType = "resumed"
)

// Event represents a single timeline event.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Client    string         `json:"client,omitempty"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Recorder records and retrieves timeline events.
type Recorder interface {
	// Record adds a new event to the timeline.
	Record(event Event)

	// GetAll returns all events, newest first.
	GetAll() []Event

	// GetByClient returns events for a specific backend client, newest first.
	GetByClient(client string) []Event
}

// recorder is the default in-memory implementation of Recorder.
type recorder struct {
	events    []Event
	mu        sync.RWMutex
	logger    zerolog.Logger
	maxEvents int
}

// Option is a functional option for configuring the recorder.
type Option func(*recorder)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *recorder) {
		r.logger = logger
	}
}

// WithMaxEvents sets the maximum number of events to retain.
func WithMaxEvents(maxEvents int) Option {
	return func(r *recorder) {
		r.maxEvents = maxEvents
	}
}

// 30s polling keeps roughly a day of history per client.
const defaultMaxEvents = 5000

// NewRecorder creates a new timeline recorder.
func NewRecorder(opts ...Option) Recorder {
	r := &recorder{
		events:    make([]Event, 0),
		logger:    zerolog.Nop(),
		maxEvents: defaultMaxEvents,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Record adds a new event to the timeline.
func (r *recorder) Record(event Event) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Prepend event (newest first)
	r.events = append([]Event{event}, r.events...)

	if len(r.events) > r.maxEvents {
		r.events = r.events[:r.maxEvents]
	}

	r.logger.Debug().
		Str("id", event.ID).
		Str("type", string(event.Type)).
		Str("client", event.Client).
		Msg("timeline event recorded")
}

// GetAll returns all events, newest first.
func (r *recorder) GetAll() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Event, len(r.events))
	copy(result, r.events)
	return result
}

// GetByClient returns events for a specific backend client, newest first.
func (r *recorder) GetByClient(client string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Event
	for _, e := range r.events {
		if e.Client == client {
			result = append(result, e)
		}
	}
	return result
}
