// Package testing provides mock implementations for use in tests.
// This package should only be imported by test files (*_test.go).
package testing

import (
	"context"
	"maps"
	"sync"

	"github.com/seedreap/qbitstats/internal/download"
)

// MockClient is a mock implementation of download.Client for testing.
// By default it serves the snapshot set with SetMainData; hooks override that.
type MockClient struct {
	name string

	mu          sync.RWMutex
	mainData    *download.SyncData
	preferences download.Preferences
	calls       int

	// Hooks for custom behavior
	OnConnect     func(ctx context.Context) error
	OnMainData    func(ctx context.Context) (*download.SyncData, error)
	OnPreferences func(ctx context.Context) (download.Preferences, error)
}

// NewMockClient creates a new mock client with an empty snapshot.
func NewMockClient(name string) *MockClient {
	return &MockClient{
		name:        name,
		mainData:    &download.SyncData{Torrents: map[string]download.Torrent{}},
		preferences: download.Preferences{"save_path": "/downloads"},
	}
}

// Name returns the configured name.
func (m *MockClient) Name() string {
	return m.name
}

// Type returns the client type.
func (m *MockClient) Type() string {
	return "mock"
}

// Connect is a no-op unless OnConnect is set.
func (m *MockClient) Connect(ctx context.Context) error {
	if m.OnConnect != nil {
		return m.OnConnect(ctx)
	}
	return nil
}

// MainData returns a copy of the current snapshot.
func (m *MockClient) MainData(ctx context.Context) (*download.SyncData, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.OnMainData != nil {
		return m.OnMainData(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data := &download.SyncData{
		ServerState: m.mainData.ServerState,
		Torrents:    maps.Clone(m.mainData.Torrents),
	}
	return data, nil
}

// Preferences returns the configured preferences.
func (m *MockClient) Preferences(ctx context.Context) (download.Preferences, error) {
	if m.OnPreferences != nil {
		return m.OnPreferences(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.preferences), nil
}

// SetMainData replaces the snapshot returned by MainData.
func (m *MockClient) SetMainData(data *download.SyncData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mainData = data
}

// SetCounters updates only the cumulative transfer counters.
func (m *MockClient) SetCounters(dl, up int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mainData.ServerState.DlInfoData = dl
	m.mainData.ServerState.UpInfoData = up
}

// AddTorrent adds a torrent to the snapshot.
func (m *MockClient) AddTorrent(t download.Torrent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mainData.Torrents[t.Hash] = t
}

// MainDataCalls returns how many times MainData was called.
func (m *MockClient) MainDataCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
