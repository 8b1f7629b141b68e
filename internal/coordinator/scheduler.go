package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/seedreap/qbitstats/internal/events"
	"github.com/seedreap/qbitstats/internal/stats"
)

// Default configuration values.
const (
	defaultInterval = 30 * time.Second
)

// Status describes the health of a scheduler's refresh loop.
type Status struct {
	Client              string    `json:"client"`
	LastAttempt         time.Time `json:"last_attempt,omitzero"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	// Halted is set after an authentication failure; automatic refreshes are
	// paused until Resume or a successful manual refresh.
	Halted bool `json:"halted"`
}

// Scheduler invokes a Coordinator on a fixed interval and holds the latest
// result for independent readers.
type Scheduler struct {
	coord    *Coordinator
	eventBus *events.Bus
	interval time.Duration
	logger   zerolog.Logger

	// cycleMu serializes refresh cycles so the coordinator never runs concurrently.
	cycleMu sync.Mutex

	mu     sync.RWMutex
	result *stats.Result
	status Status

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulerOption is a functional option for configuring the Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger for the scheduler.
func WithSchedulerLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithInterval sets the refresh interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithEventBus sets the bus refresh outcomes are published to.
func WithEventBus(bus *events.Bus) SchedulerOption {
	return func(s *Scheduler) {
		s.eventBus = bus
	}
}

// NewScheduler creates a Scheduler for the given coordinator.
func NewScheduler(coord *Coordinator, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		coord:    coord,
		interval: defaultInterval,
		logger:   zerolog.Nop(),
		status:   Status{Client: coord.Name()},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.interval <= 0 {
		s.interval = defaultInterval
	}

	return s
}

// Name returns the backend client name.
func (s *Scheduler) Name() string {
	return s.coord.Name()
}

// Type returns the backend client type.
func (s *Scheduler) Type() string {
	return s.coord.Client().Type()
}

// Start runs an initial refresh and then begins the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.tick(ctx)

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.logger.Info().
		Str("client", s.Name()).
		Dur("interval", s.interval).
		Msg("scheduler started")

	return nil
}

// Stop stops the polling loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Str("client", s.Name()).Msg("scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs an automatic cycle unless polling is halted.
func (s *Scheduler) tick(ctx context.Context) {
	if s.Status().Halted {
		s.logger.Debug().Str("client", s.Name()).Msg("polling halted, skipping refresh")
		return
	}

	_, _ = s.RefreshNow(ctx)
}

// RefreshNow runs a refresh cycle immediately, waiting for any in-flight cycle.
// A successful manual refresh clears the halted state.
func (s *Scheduler) RefreshNow(ctx context.Context) (*stats.Result, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cycleID := ulid.Make().String()
	logger := s.logger.With().Str("client", s.Name()).Str("cycle_id", cycleID).Logger()

	started := time.Now()
	result, err := s.coord.Refresh(ctx)

	s.mu.Lock()
	s.status.LastAttempt = started
	if err != nil {
		s.status.LastError = err.Error()
		s.status.ConsecutiveFailures++
		if errors.Is(err, ErrAuthFailed) {
			s.status.Halted = true
		}
	} else {
		s.result = result
		s.status.LastSuccess = result.UpdatedAt
		s.status.LastError = ""
		s.status.ConsecutiveFailures = 0
		s.status.Halted = false
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		eventType := events.StatsUpdated
		if result.Skipped {
			eventType = events.RestartDetected
		}
		data := map[string]any{
			"total":       result.Total,
			"longest_eta": result.LongestETA,
		}
		buckets := zerolog.Dict()
		for _, b := range stats.Buckets {
			data[string(b)] = result.Get(b)
			buckets.Int(string(b), result.Get(b))
		}

		logger.Debug().
			Int("total", result.Total).
			Dict("buckets", buckets).
			Int64("longest_eta", result.LongestETA).
			Bool("skipped", result.Skipped).
			Dur("took", time.Since(started)).
			Msg("refresh complete")
		s.publish(eventType, cycleID, result, data)

	case ctx.Err() != nil:
		// Shutdown in progress, the failure is expected.
		logger.Debug().Err(err).Msg("refresh interrupted")

	case errors.Is(err, ErrAuthFailed):
		logger.Error().Err(err).Msg("authentication failed, halting automatic refresh")
		s.publish(events.AuthFailed, cycleID, nil, map[string]any{"error": err.Error()})

	default:
		logger.Warn().Err(err).Msg("refresh failed")
		s.publish(events.UpdateFailed, cycleID, nil, map[string]any{"error": err.Error()})
	}

	return result, err
}

// Resume re-enables automatic refreshes after an authentication failure.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	wasHalted := s.status.Halted
	s.status.Halted = false
	s.mu.Unlock()

	if wasHalted {
		s.logger.Info().Str("client", s.Name()).Msg("automatic refresh resumed")
		s.publish(events.ClientResumed, "", nil, nil)
	}
}

// Result returns the latest successful result. The returned value is shared
// and must not be modified.
func (s *Scheduler) Result() (*stats.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.result != nil
}

// Status returns a copy of the current loop status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) publish(t events.Type, cycleID string, subject *stats.Result, data map[string]any) {
	if s.eventBus == nil {
		return
	}

	if cycleID != "" {
		if data == nil {
			data = make(map[string]any)
		}
		data["cycle_id"] = cycleID
	}

	ev := events.Event{
		Type:   t,
		Client: s.Name(),
		Data:   data,
	}
	if subject != nil {
		ev.Subject = subject
	}

	s.eventBus.Publish(ev)
}
