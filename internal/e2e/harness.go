//go:build e2e

// Package e2e provides end-to-end testing infrastructure.
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seedreap/qbitstats/apitypes"
	"github.com/seedreap/qbitstats/internal/server"
	"github.com/seedreap/qbitstats/internal/stats"
	testutil "github.com/seedreap/qbitstats/internal/testing"
)

// Test configuration constants.
const (
	serverShutdownTimeout = 10 * time.Second
	pollSleepInterval     = 50 * time.Millisecond

	// ClientName is the name the harness registers the fake backend under.
	ClientName = "seedbox"
	// Username and Password are the credentials the fake backend accepts.
	Username = "admin"
	Password = "adminadmin"
)

// Harness provides a complete test environment for end-to-end tests.
// It manages the fake qBittorrent server and the application server.
type Harness struct {
	t *testing.T

	// Mock servers
	QBittorrent *testutil.QBittorrentServer

	// Application server
	Server *server.Server

	// Internal
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// Config configures the E2E test harness.
type Config struct {
	// PollInterval is how often the scheduler refreshes.
	// Shorter = faster tests, default = 200ms for tests
	PollInterval time.Duration

	// Logger for the test harness
	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults for E2E tests.
func DefaultConfig() Config {
	return Config{
		PollInterval: 200 * time.Millisecond,
		Logger:       zerolog.Nop(),
	}
}

// NewHarness creates a new E2E test harness.
// Call Start() to initialize all components.
func NewHarness(t *testing.T, _ Config) *Harness {
	t.Helper()

	return &Harness{t: t}
}

// Start initializes all components of the test harness.
// Seed the fake backend via Backend before Start to control the first snapshot.
func (h *Harness) Start(ctx context.Context, cfg Config) {
	h.t.Helper()

	h.ctx, h.ctxCancel = context.WithCancel(ctx)

	if h.QBittorrent == nil {
		h.QBittorrent = testutil.NewQBittorrentServer(Username, Password)
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultConfig().PollInterval
	}

	appCfg := testutil.ValidConfigForServer(h.t, h.QBittorrent, Username, Password, pollInterval)

	var err error
	h.Server, err = server.New(appCfg, server.Options{
		Logger: cfg.Logger,
	})
	require.NoError(h.t, err, "failed to create server")

	// Start server in background
	go func() {
		_ = h.Server.Run(h.ctx)
	}()
}

// Backend creates the fake qBittorrent server ahead of Start so tests can seed it.
func (h *Harness) Backend() *testutil.QBittorrentServer {
	if h.QBittorrent == nil {
		h.QBittorrent = testutil.NewQBittorrentServer(Username, Password)
	}
	return h.QBittorrent
}

// Stop shuts down all components.
func (h *Harness) Stop() {
	h.t.Helper()

	if h.Server != nil {
		h.Server.PrepareShutdown()
	}

	// Cancel context to trigger shutdown
	if h.ctxCancel != nil {
		h.ctxCancel()
	}

	if h.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		_ = h.Server.Shutdown(shutdownCtx)
	}

	if h.QBittorrent != nil {
		h.QBittorrent.Close()
	}
}

// Do performs a request against the API handler and returns the recorder.
func (h *Harness) Do(method, path string) *httptest.ResponseRecorder {
	h.t.Helper()

	rec := httptest.NewRecorder()
	h.Server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// Stats returns the current stats for the harness client, or nil before the
// first successful refresh.
func (h *Harness) Stats() *stats.Result {
	h.t.Helper()

	rec := h.Do(http.MethodGet, "/api/clients/"+ClientName+"/stats")
	if rec.Code != http.StatusOK {
		return nil
	}

	var result stats.Result
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &result))
	return &result
}

// WaitForStats waits until the served stats satisfy cond.
func (h *Harness) WaitForStats(cond func(*stats.Result) bool, timeout time.Duration) *stats.Result {
	h.t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if result := h.Stats(); result != nil && cond(result) {
			return result
		}
		time.Sleep(pollSleepInterval)
	}

	h.t.Fatalf("timeout waiting for stats condition")
	return nil
}

// Client returns the harness client's entry from the clients listing.
func (h *Harness) Client() apitypes.Client {
	h.t.Helper()

	rec := h.Do(http.MethodGet, "/api/clients")
	require.Equal(h.t, http.StatusOK, rec.Code)

	var clients []apitypes.Client
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &clients))
	for _, c := range clients {
		if c.Name == ClientName {
			return c
		}
	}

	h.t.Fatalf("client %s not listed", ClientName)
	return apitypes.Client{}
}

// GetAllEvents returns every recorded timeline event, newest first.
func (h *Harness) GetAllEvents() []apitypes.TimelineEvent {
	h.t.Helper()

	rec := h.Do(http.MethodGet, "/api/timeline")
	require.Equal(h.t, http.StatusOK, rec.Code)

	var events []apitypes.TimelineEvent
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &events))
	return events
}

// WaitForEvent waits for an event of the specified type to be recorded.
func (h *Harness) WaitForEvent(eventType string, timeout time.Duration) apitypes.TimelineEvent {
	h.t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		for _, ev := range h.GetAllEvents() {
			if ev.Type == eventType {
				return ev // Newest first
			}
		}
		time.Sleep(pollSleepInterval)
	}

	h.t.Fatalf("timeout waiting for event type %s", eventType)
	return apitypes.TimelineEvent{}
}

// EventTypes extracts event types from a slice of events.
func EventTypes(events []apitypes.TimelineEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
