// Package download provides interfaces and implementations for torrent backend clients.
package download

import (
	"context"
	"errors"
	"maps"

	"github.com/rs/zerolog"
)

// ErrAuthentication is returned when the backend rejects the configured credentials.
var ErrAuthentication = errors.New("authentication failed")

// InfiniteETA is the ETA value the backend reports when no estimate is available (100 days).
const InfiniteETA int64 = 8640000

// configurable is implemented by all clients to support shared options.
type configurable interface {
	setLogger(zerolog.Logger)
}

// Option is a functional option for configuring clients.
type Option func(configurable)

// WithLogger sets the logger for any client.
func WithLogger(logger zerolog.Logger) Option {
	return func(c configurable) {
		c.setLogger(logger)
	}
}

// ServerState holds the global transfer counters of a backend.
type ServerState struct {
	// DlInfoData is the cumulative number of bytes downloaded since the backend started.
	DlInfoData int64 `json:"dl_info_data"`
	// UpInfoData is the cumulative number of bytes uploaded since the backend started.
	UpInfoData int64 `json:"up_info_data"`
	// DlInfoSpeed is the current download rate in bytes/sec.
	DlInfoSpeed int64 `json:"dl_info_speed"`
	// UpInfoSpeed is the current upload rate in bytes/sec.
	UpInfoSpeed int64 `json:"up_info_speed"`
	// ConnectionStatus is "connected", "firewalled" or "disconnected".
	ConnectionStatus string `json:"connection_status,omitempty"`
}

// Torrent is a single torrent record from a sync snapshot.
type Torrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	State    string  `json:"state"`
	ETA      int64   `json:"eta"`
	Progress float64 `json:"progress"`
}

// SyncData is a full state dump of a backend: counters plus every torrent keyed by hash.
type SyncData struct {
	ServerState ServerState        `json:"server_state"`
	Torrents    map[string]Torrent `json:"torrents"`
}

// Preferences is the backend's application preferences, kept opaque.
type Preferences map[string]any

// Client is the interface that torrent backend clients must implement.
type Client interface {
	// Name returns the configured name of this client instance.
	Name() string

	// Type returns the type of client (e.g., "qbittorrent").
	Type() string

	// Connect authenticates against the backend.
	Connect(ctx context.Context) error

	// MainData returns a full sync snapshot.
	MainData(ctx context.Context) (*SyncData, error)

	// Preferences returns the backend's application preferences.
	Preferences(ctx context.Context) (Preferences, error)
}

// Registry holds all configured clients.
type Registry struct {
	clients map[string]Client
}

// NewRegistry creates a new client registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
	}
}

// Register adds a client to the registry.
func (r *Registry) Register(name string, c Client) {
	r.clients[name] = c
}

// Get returns a client by name.
func (r *Registry) Get(name string) (Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

// All returns a copy of the registered clients keyed by name.
func (r *Registry) All() map[string]Client {
	return maps.Clone(r.clients)
}
