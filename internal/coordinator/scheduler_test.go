package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedreap/qbitstats/internal/coordinator"
	"github.com/seedreap/qbitstats/internal/download"
	"github.com/seedreap/qbitstats/internal/events"
	"github.com/seedreap/qbitstats/internal/stats"
)

func waitForEvent(t *testing.T, sub events.Subscription, want events.Type) events.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestScheduler(t *testing.T) {
	t.Run("initial refresh on start", func(t *testing.T) {
		m := newMock(t)
		s := coordinator.NewScheduler(coordinator.New(m), coordinator.WithInterval(time.Hour))

		_, ok := s.Result()
		assert.False(t, ok)

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()

		result, ok := s.Result()
		require.True(t, ok)
		assert.Equal(t, 3, result.Total)
		assert.Equal(t, 1, m.MainDataCalls())

		status := s.Status()
		assert.Equal(t, "seedbox", status.Client)
		assert.False(t, status.LastSuccess.IsZero())
		assert.Empty(t, status.LastError)
		assert.False(t, status.Halted)
	})

	t.Run("polls on interval", func(t *testing.T) {
		m := newMock(t)
		s := coordinator.NewScheduler(
			coordinator.New(m),
			coordinator.WithInterval(20*time.Millisecond),
			coordinator.WithSchedulerLogger(zerolog.Nop()),
		)

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()

		require.Eventually(t, func() bool {
			return m.MainDataCalls() >= 3
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("publishes events", func(t *testing.T) {
		bus := events.New()
		defer bus.Close()
		sub := bus.Subscribe()

		m := newMock(t)
		m.SetCounters(100, 100)
		s := coordinator.NewScheduler(
			coordinator.New(m),
			coordinator.WithInterval(time.Hour),
			coordinator.WithEventBus(bus),
		)

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()

		ev := waitForEvent(t, sub, events.StatsUpdated)
		assert.Equal(t, "seedbox", ev.Client)
		assert.Equal(t, 3, ev.Data["total"])
		for _, b := range stats.Buckets {
			assert.Contains(t, ev.Data, string(b))
		}
		assert.Equal(t, 1, ev.Data["downloading"])
		assert.Equal(t, 1, ev.Data["seeding"])
		assert.Equal(t, 0, ev.Data["paused"])
		assert.NotEmpty(t, ev.Data["cycle_id"])

		m.SetCounters(1, 1)
		_, err := s.RefreshNow(context.Background())
		require.NoError(t, err)
		waitForEvent(t, sub, events.RestartDetected)

		m.OnMainData = func(context.Context) (*download.SyncData, error) {
			return nil, errors.New("timeout")
		}
		_, err = s.RefreshNow(context.Background())
		require.ErrorIs(t, err, coordinator.ErrUpdateFailed)
		ev = waitForEvent(t, sub, events.UpdateFailed)
		assert.Contains(t, ev.Data["error"], "timeout")
	})

	t.Run("keeps last result on transient failure", func(t *testing.T) {
		m := newMock(t)
		s := coordinator.NewScheduler(coordinator.New(m), coordinator.WithInterval(time.Hour))

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()

		before, ok := s.Result()
		require.True(t, ok)

		m.OnMainData = func(context.Context) (*download.SyncData, error) {
			return nil, errors.New("boom")
		}
		for range 2 {
			_, err := s.RefreshNow(context.Background())
			require.Error(t, err)
		}

		after, ok := s.Result()
		require.True(t, ok)
		assert.Same(t, before, after)

		status := s.Status()
		assert.Equal(t, 2, status.ConsecutiveFailures)
		assert.Contains(t, status.LastError, "boom")
		assert.False(t, status.Halted)

		m.OnMainData = nil
		_, err := s.RefreshNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, s.Status().ConsecutiveFailures)
		assert.Empty(t, s.Status().LastError)
	})

	t.Run("halts on auth failure until resumed", func(t *testing.T) {
		bus := events.New()
		defer bus.Close()
		sub := bus.Subscribe()

		m := newMock(t)
		m.OnMainData = func(context.Context) (*download.SyncData, error) {
			return nil, download.ErrAuthentication
		}

		s := coordinator.NewScheduler(
			coordinator.New(m),
			coordinator.WithInterval(10*time.Millisecond),
			coordinator.WithEventBus(bus),
		)

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()

		waitForEvent(t, sub, events.AuthFailed)
		assert.True(t, s.Status().Halted)

		// No automatic retries while halted
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, m.MainDataCalls())

		m.OnMainData = nil
		s.Resume()
		waitForEvent(t, sub, events.ClientResumed)

		require.Eventually(t, func() bool {
			_, ok := s.Result()
			return ok
		}, 2*time.Second, 10*time.Millisecond)
		assert.False(t, s.Status().Halted)
	})

	t.Run("manual refresh clears halt", func(t *testing.T) {
		m := newMock(t)
		m.OnMainData = func(context.Context) (*download.SyncData, error) {
			return nil, download.ErrAuthentication
		}
		s := coordinator.NewScheduler(coordinator.New(m), coordinator.WithInterval(time.Hour))

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()
		require.True(t, s.Status().Halted)

		m.OnMainData = nil
		result, err := s.RefreshNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, result.Total)
		assert.False(t, s.Status().Halted)
	})

	t.Run("cycles never overlap", func(t *testing.T) {
		m := newMock(t)

		var mu sync.Mutex
		inFlight, maxInFlight := 0, 0
		m.OnPreferences = func(context.Context) (download.Preferences, error) {
			mu.Lock()
			inFlight++
			maxInFlight = max(maxInFlight, inFlight)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return download.Preferences{}, nil
		}

		s := coordinator.NewScheduler(coordinator.New(m), coordinator.WithInterval(time.Millisecond))
		require.NoError(t, s.Start(context.Background()))

		var wg sync.WaitGroup
		for range 10 {
			wg.Go(func() {
				_, _ = s.RefreshNow(context.Background())
			})
		}
		wg.Wait()
		s.Stop()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, maxInFlight)
	})

	t.Run("stop without start", func(_ *testing.T) {
		s := coordinator.NewScheduler(coordinator.New(newMock(t)))
		s.Stop()
	})
}
