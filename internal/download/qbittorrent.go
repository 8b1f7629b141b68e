package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	qbittorrent "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/seedreap/qbitstats/internal/config"
)

// qbittorrentClient implements the Client interface for qBittorrent.
// It is private and only exposed via the Client interface.
type qbittorrentClient struct {
	name   string
	url    string
	qb     *qbittorrent.Client
	logger zerolog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// setLogger implements configurable for shared options.
func (c *qbittorrentClient) setLogger(logger zerolog.Logger) {
	c.logger = logger
}

// NewQBittorrent creates a new qBittorrent client and returns it as Client.
func NewQBittorrent(name string, cfg config.ClientConfig, opts ...Option) Client {
	c := &qbittorrentClient{
		name: name,
		url:  strings.TrimSuffix(cfg.URL, "/"),
		qb: qbittorrent.NewClient(qbittorrent.Config{
			Host:          strings.TrimSuffix(cfg.URL, "/"),
			Username:      cfg.Username,
			Password:      cfg.Password,
			BasicUser:     cfg.BasicUser,
			BasicPass:     cfg.BasicPass,
			TLSSkipVerify: cfg.TLSSkipVerify,
			Timeout:       int(cfg.HTTPTimeout.Seconds()),
		}),
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the configured name of this client instance.
func (c *qbittorrentClient) Name() string {
	return c.name
}

// Type returns the type of client.
func (c *qbittorrentClient) Type() string {
	return "qbittorrent"
}

// Connect logs in to the qBittorrent WebUI.
func (c *qbittorrentClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.qb.LoginCtx(ctx); err != nil {
		c.loggedIn = false
		return fmt.Errorf("qbittorrent login failed: %w", classify(err))
	}
	c.loggedIn = true

	c.logger.Info().
		Str("name", c.name).
		Str("url", c.url).
		Msg("connected to qbittorrent")

	return nil
}

func (c *qbittorrentClient) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	loggedIn := c.loggedIn
	c.mu.Unlock()

	if loggedIn {
		return nil
	}
	return c.Connect(ctx)
}

// MainData returns a full sync snapshot (rid 0).
func (c *qbittorrentClient) MainData(ctx context.Context) (*SyncData, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	md, err := c.qb.SyncMainDataCtx(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("sync maindata: %w", c.classifyRequest(err))
	}
	if md == nil {
		return nil, errors.New("sync maindata: empty response")
	}

	data := &SyncData{
		ServerState: ServerState{
			DlInfoData:       int64(md.ServerState.DlInfoData),
			UpInfoData:       int64(md.ServerState.UpInfoData),
			DlInfoSpeed:      int64(md.ServerState.DlInfoSpeed),
			UpInfoSpeed:      int64(md.ServerState.UpInfoSpeed),
			ConnectionStatus: md.ServerState.ConnectionStatus,
		},
		Torrents: make(map[string]Torrent, len(md.Torrents)),
	}

	for hash, t := range md.Torrents {
		data.Torrents[hash] = Torrent{
			Hash:     hash,
			Name:     t.Name,
			Category: t.Category,
			State:    string(t.State),
			ETA:      int64(t.ETA),
			Progress: t.Progress,
		}
	}

	c.logger.Debug().
		Int("torrents", len(data.Torrents)).
		Str("downloaded", units.HumanSize(float64(data.ServerState.DlInfoData))).
		Str("uploaded", units.HumanSize(float64(data.ServerState.UpInfoData))).
		Msg("fetched maindata")

	return data, nil
}

// Preferences returns the application preferences as an opaque map.
func (c *qbittorrentClient) Preferences(ctx context.Context) (Preferences, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	prefs, err := c.qb.GetAppPreferencesCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("app preferences: %w", c.classifyRequest(err))
	}

	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}

	var out Preferences
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}

	return out, nil
}

// classifyRequest maps a request error and forces a fresh login on the next
// call. A restarted backend drops every session, so any failure may mean the
// cookie is stale.
func (c *qbittorrentClient) classifyRequest(err error) error {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()

	return classify(err)
}

// classify wraps credential rejections from the library with ErrAuthentication.
func classify(err error) error {
	if credentialsRejected(err) {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return err
}

// credentialsRejected reports whether err carries a login rejection. A request
// that hits an expired session re-logs in through the library's retry loop, and
// the retry error does not unwrap to its attempts.
func credentialsRejected(err error) bool {
	if errors.Is(err, qbittorrent.ErrBadCredentials) || errors.Is(err, qbittorrent.ErrIPBanned) {
		return true
	}

	var attempts retry.Error
	if errors.As(err, &attempts) {
		for _, attempt := range attempts.WrappedErrors() {
			if credentialsRejected(attempt) {
				return true
			}
		}
	}

	// Some library paths flatten the sentinel into the message.
	msg := err.Error()
	return strings.Contains(msg, qbittorrent.ErrBadCredentials.Error()) ||
		strings.Contains(msg, qbittorrent.ErrIPBanned.Error())
}
