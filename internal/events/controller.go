package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seedreap/qbitstats/internal/timeline"
)

// Controller records bus events into the timeline for history tracking.
// It communicates only via the event bus and the recorder, with no direct
// dependencies on other domain packages.
type Controller struct {
	eventBus *Bus
	recorder timeline.Recorder
	logger   zerolog.Logger

	subscription Subscription
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// ControllerOption is a functional option for configuring the Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger for the controller.
func WithControllerLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a new events Controller.
func NewController(eventBus *Bus, recorder timeline.Recorder, opts ...ControllerOption) *Controller {
	c := &Controller{
		eventBus: eventBus,
		recorder: recorder,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins recording all events.
func (c *Controller) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.subscription = c.eventBus.Subscribe()

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info().Msg("events controller started")
	return nil
}

// Stop stops the controller and waits for it to finish.
func (c *Controller) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.eventBus.Unsubscribe(c.subscription)
	c.wg.Wait()

	c.logger.Info().Msg("events controller stopped")
	return nil
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.subscription:
			if !ok {
				return
			}
			c.recordEvent(event)
		}
	}
}

func (c *Controller) recordEvent(ev Event) {
	timestamp := ev.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	cycleID, _ := ev.Data["cycle_id"].(string)

	c.recorder.Record(timeline.Event{
		Type:      timelineType(ev.Type),
		Timestamp: timestamp,
		Message:   generateMessage(ev),
		Client:    ev.Client,
		CycleID:   cycleID,
		Details:   ev.Data,
	})
}

func timelineType(t Type) timeline.EventType {
	switch t {
	case SystemStarted:
		return timeline.EventSystemStarted
	case ClientConnected:
		return timeline.EventConnected
	case StatsUpdated:
		return timeline.EventUpdated
	case RestartDetected:
		return timeline.EventRestartDetected
	case UpdateFailed:
		return timeline.EventUpdateFailed
	case AuthFailed:
		return timeline.EventAuthFailed
	case ClientResumed:
		return timeline.EventResumed
	default:
		return timeline.EventType(t)
	}
}

func generateMessage(event Event) string {
	errMsg, _ := event.Data["error"].(string)

	switch event.Type {
	case SystemStarted:
		return "System started"
	case ClientConnected:
		return fmt.Sprintf("Connected to client: %s", event.Client)
	case StatsUpdated:
		return fmt.Sprintf("Updated %s: %v torrents", event.Client, event.Data["total"])
	case RestartDetected:
		return fmt.Sprintf("Restart detected on %s, reusing previous snapshot", event.Client)
	case UpdateFailed:
		return fmt.Sprintf("Update failed for %s: %s", event.Client, errMsg)
	case AuthFailed:
		return fmt.Sprintf("Authentication failed for %s, polling halted", event.Client)
	case ClientResumed:
		return fmt.Sprintf("Polling resumed for %s", event.Client)
	default:
		return fmt.Sprintf("Event: %s", event.Type)
	}
}
