// Package coordinator runs the periodic refresh of a torrent backend: it
// fetches a sync snapshot and the preferences, guards against backend restarts
// and aggregates torrent state counts into a stats.Result.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/seedreap/qbitstats/internal/download"
	"github.com/seedreap/qbitstats/internal/stats"
)

// Coordinator owns the refresh state of a single backend.
//
// A Coordinator is not safe for concurrent use; Scheduler serializes calls
// to Refresh.
type Coordinator struct {
	client download.Client
	logger zerolog.Logger
	now    func() time.Time

	// last is the most recent accepted result, nil before the first success.
	last *stats.Result
	// skipped is set after a cycle reused the previous snapshot because the
	// backend counters went backward.
	skipped bool
}

// Option is a functional option for configuring the Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithClock overrides the time source used for Result.UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator for the given backend client.
func New(client download.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		client: client,
		logger: zerolog.Nop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the backend client name.
func (c *Coordinator) Name() string {
	return c.client.Name()
}

// Client returns the backend client.
func (c *Coordinator) Client() download.Client {
	return c.client
}

// Last returns the most recent result, or nil before the first successful refresh.
func (c *Coordinator) Last() *stats.Result {
	return c.last
}

// Skipping reports whether the previous cycle reused a stale snapshot.
func (c *Coordinator) Skipping() bool {
	return c.skipped
}

// Refresh runs one cycle. On error the coordinator state is left untouched and
// the error is an *AuthError or an *UpdateError.
//
// When either cumulative counter is lower than in the last accepted snapshot
// the backend most likely restarted. The first such cycle reuses the previous
// snapshot; the next one accepts fresh data even if the counters are still
// low, so repeated restarts never stall the results.
func (c *Coordinator) Refresh(ctx context.Context) (*stats.Result, error) {
	name := c.client.Name()

	data, err := c.client.MainData(ctx)
	if err != nil {
		return nil, classify(name, err)
	}
	if data == nil {
		return nil, &UpdateError{Client: name, Err: errors.New("empty sync snapshot")}
	}

	prefs, err := c.client.Preferences(ctx)
	if err != nil {
		return nil, classify(name, err)
	}

	accepted := data
	skipped := c.skipped
	reused := false

	if c.last != nil && c.last.Sync != nil && countersDecreased(c.last.Sync.ServerState, data.ServerState) {
		if skipped {
			skipped = false
			c.logger.Info().
				Int64("dl_info_data", data.ServerState.DlInfoData).
				Int64("up_info_data", data.ServerState.UpInfoData).
				Msg("counters still below previous snapshot, accepting fresh data")
		} else {
			accepted = c.last.Sync
			skipped = true
			reused = true
			c.logger.Warn().
				Int64("previous_dl_info_data", c.last.Sync.ServerState.DlInfoData).
				Int64("dl_info_data", data.ServerState.DlInfoData).
				Int64("previous_up_info_data", c.last.Sync.ServerState.UpInfoData).
				Int64("up_info_data", data.ServerState.UpInfoData).
				Msg("backend restart detected, reusing previous snapshot")
		}
	}

	result := &stats.Result{
		Sync:        accepted,
		Preferences: prefs,
		Counts:      stats.Aggregate(accepted),
		Client:      name,
		UpdatedAt:   c.now(),
		Skipped:     reused,
	}

	c.last = result
	c.skipped = skipped

	return result, nil
}

// countersDecreased reports whether either cumulative transfer counter went backward.
func countersDecreased(prev, next download.ServerState) bool {
	return next.DlInfoData < prev.DlInfoData || next.UpInfoData < prev.UpInfoData
}
