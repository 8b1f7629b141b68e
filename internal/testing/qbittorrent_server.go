package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/oklog/ulid/v2"
)

// FakeTorrent represents a torrent in the mock qBittorrent server.
type FakeTorrent struct {
	Hash     string
	Name     string
	Category string
	State    string // "downloading", "uploading", "pausedDL", "stalledUP", etc.
	ETA      int64  // seconds, 8640000 for infinite
	Progress float64
}

// QBittorrentServer is a mock qBittorrent WebUI API server for testing.
type QBittorrentServer struct {
	*httptest.Server

	mu          sync.RWMutex
	username    string
	password    string
	sessions    map[string]bool
	torrents    map[string]*FakeTorrent
	dlInfoData  int64
	upInfoData  int64
	preferences map[string]any
	failStatus  int
}

// NewQBittorrentServer creates a new mock qBittorrent server accepting the given credentials.
func NewQBittorrentServer(username, password string) *QBittorrentServer {
	s := &QBittorrentServer{
		username: username,
		password: password,
		sessions: make(map[string]bool),
		torrents: make(map[string]*FakeTorrent),
		preferences: map[string]any{
			"save_path":        "/downloads",
			"web_ui_port":      8080,
			"queueing_enabled": true,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/v2/app/version", s.handleVersion)
	mux.HandleFunc("GET /api/v2/app/preferences", s.requireSession(s.handlePreferences))
	mux.HandleFunc("GET /api/v2/sync/maindata", s.requireSession(s.handleMainData))

	s.Server = httptest.NewServer(mux)
	return s
}

// AddTorrent adds a torrent to the mock server.
func (s *QBittorrentServer) AddTorrent(t *FakeTorrent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.torrents[t.Hash] = t
}

// SetTorrentState updates a torrent's state and ETA.
func (s *QBittorrentServer) SetTorrentState(hash, state string, eta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.torrents[hash]; ok {
		t.State = state
		t.ETA = eta
	}
}

// SetCounters sets the cumulative session transfer counters.
func (s *QBittorrentServer) SetCounters(dl, up int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlInfoData = dl
	s.upInfoData = up
}

// SetPassword changes the accepted password and drops all sessions.
func (s *QBittorrentServer) SetPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.password = password
	s.sessions = make(map[string]bool)
}

// SetFailure makes data endpoints answer with the given status. Zero clears it.
func (s *QBittorrentServer) SetFailure(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failStatus = status
}

// handleLogin handles POST /api/v2/auth/login.
func (s *QBittorrentServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.FormValue("username") != s.username || r.FormValue("password") != s.password {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Fails."))
		return
	}

	sid := ulid.Make().String()
	s.sessions[sid] = true

	http.SetCookie(w, &http.Cookie{Name: "SID", Value: sid, Path: "/", HttpOnly: true})
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok."))
}

// handleVersion handles GET /api/v2/app/version.
func (s *QBittorrentServer) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("v5.0.0"))
}

func (s *QBittorrentServer) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("SID")

		s.mu.RLock()
		valid := err == nil && s.sessions[cookie.Value]
		failStatus := s.failStatus
		s.mu.RUnlock()

		if !valid {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if failStatus != 0 {
			http.Error(w, http.StatusText(failStatus), failStatus)
			return
		}

		next(w, r)
	}
}

// qbAPITorrent matches the qBittorrent sync API torrent format.
type qbAPITorrent struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	State    string  `json:"state"`
	ETA      int64   `json:"eta"`
	Progress float64 `json:"progress"`
}

type qbAPIServerState struct {
	DlInfoData       int64  `json:"dl_info_data"`
	UpInfoData       int64  `json:"up_info_data"`
	DlInfoSpeed      int64  `json:"dl_info_speed"`
	UpInfoSpeed      int64  `json:"up_info_speed"`
	ConnectionStatus string `json:"connection_status"`
}

type qbAPIMainData struct {
	Rid         int64                   `json:"rid"`
	FullUpdate  bool                    `json:"full_update"`
	Torrents    map[string]qbAPITorrent `json:"torrents"`
	ServerState qbAPIServerState        `json:"server_state"`
}

// handleMainData handles GET /api/v2/sync/maindata. It always answers with a full update.
func (s *QBittorrentServer) handleMainData(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := qbAPIMainData{
		Rid:        1,
		FullUpdate: true,
		Torrents:   make(map[string]qbAPITorrent, len(s.torrents)),
		ServerState: qbAPIServerState{
			DlInfoData:       s.dlInfoData,
			UpInfoData:       s.upInfoData,
			ConnectionStatus: "connected",
		},
	}

	for hash, t := range s.torrents {
		resp.Torrents[hash] = qbAPITorrent{
			Name:     t.Name,
			Category: t.Category,
			State:    t.State,
			ETA:      t.ETA,
			Progress: t.Progress,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePreferences handles GET /api/v2/app/preferences.
func (s *QBittorrentServer) handlePreferences(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.preferences)
}
