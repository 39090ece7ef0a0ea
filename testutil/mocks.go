// Package testutil provides mock upstream servers and database setup shared by package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTwitchServer mocks the Helix streams/users endpoints and the OAuth token endpoint.
// Live state is mutable between requests so tests can model sessions starting and ending.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu          sync.Mutex
	live        map[string]map[string]any // login -> stream object
	users       map[string]map[string]any // login -> user object
	failing     map[string]bool           // logins whose batch returns 500
	streamCalls [][]string
	lastAuth    string
}

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		live:     make(map[string]map[string]any),
		users:    make(map[string]map[string]any),
		failing:  make(map[string]bool),
	}
	m.Handlers["/helix/streams"] = m.handleStreams
	m.Handlers["/helix/users"] = m.handleUsers
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixBaseURL is the value to use as the Helix API base URL.
func (m *MockTwitchServer) HelixBaseURL() string { return m.URL + "/helix" }

// TokenURL is the mock OAuth token endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// SetLive marks login as live with the given stream session id.
func (m *MockTwitchServer) SetLive(login, streamID, title, game string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[login] = map[string]any{
		"id": streamID, "user_id": "uid-" + login, "user_login": login, "user_name": login,
		"game_name": game, "title": title, "type": "live", "viewer_count": 10,
		"started_at": time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	}
}

// SetOffline ends login's stream.
func (m *MockTwitchServer) SetOffline(login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, login)
}

// AddUser registers a profile returned by /helix/users.
func (m *MockTwitchServer) AddUser(login, displayName, profileImageURL string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[login] = map[string]any{
		"id": "uid-" + login, "login": login, "display_name": displayName,
		"profile_image_url": profileImageURL, "created_at": createdAt.UTC().Format(time.RFC3339),
	}
}

// FailLogin makes any streams batch containing login fail with a 500.
func (m *MockTwitchServer) FailLogin(login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[login] = true
}

// StreamCalls returns the user_login values of every /helix/streams request.
func (m *MockTwitchServer) StreamCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.streamCalls))
	copy(out, m.streamCalls)
	return out
}

// LastAuthorization is the Authorization header of the latest streams request.
func (m *MockTwitchServer) LastAuthorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

func (m *MockTwitchServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	logins := r.URL.Query()["user_login"]
	m.mu.Lock()
	m.streamCalls = append(m.streamCalls, logins)
	m.lastAuth = r.Header.Get("Authorization")
	var data []map[string]any
	failed := false
	for _, l := range logins {
		if m.failing[strings.ToLower(l)] {
			failed = true
		}
		if s, ok := m.live[strings.ToLower(l)]; ok {
			data = append(data, s)
		}
	}
	m.mu.Unlock()
	if failed {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal Server Error", "status": 500, "message": "upstream failure"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": nonNil(data), "pagination": map[string]any{}})
}

func (m *MockTwitchServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	var data []map[string]any
	for _, l := range r.URL.Query()["login"] {
		if u, ok := m.users[strings.ToLower(l)]; ok {
			data = append(data, u)
		}
	}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": nonNil(data)})
}

// MockOAuthTokenResponse answers refresh grants with the given status and token pair.
// An empty refreshToken omits the field.
func (m *MockTwitchServer) MockOAuthTokenResponse(status int, accessToken, refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			writeJSON(w, status, map[string]any{"status": status, "message": "Invalid refresh token"})
			return
		}
		body := map[string]any{
			"access_token": accessToken,
			"expires_in":   14400,
			"token_type":   "bearer",
			"scope":        []string{},
		}
		if refreshToken != "" {
			body["refresh_token"] = refreshToken
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

func nonNil(v []map[string]any) []map[string]any {
	if v == nil {
		return []map[string]any{}
	}
	return v
}
