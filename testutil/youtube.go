package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockYouTubeServer mocks channels.list (forHandle) and playlistItems.list.
type MockYouTubeServer struct {
	*httptest.Server

	mu       sync.Mutex
	channels map[string]map[string]any // handle without '@', lower-case -> channel
	uploads  map[string][]map[string]any
	failing  map[string]bool // playlist ids that return 500
	calls    map[string]int
}

// NewMockYouTubeServer starts the mock.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		channels: make(map[string]map[string]any),
		uploads:  make(map[string][]map[string]any),
		failing:  make(map[string]bool),
		calls:    make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/channels", m.handleChannels)
	mux.HandleFunc("/youtube/v3/playlistItems", m.handlePlaylistItems)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// Endpoint is the base URL to pass as the API endpoint.
func (m *MockYouTubeServer) Endpoint() string { return m.URL + "/" }

// AddChannel registers handle (with or without '@') as channelID.
func (m *MockYouTubeServer) AddChannel(handle, channelID, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[strings.ToLower(strings.TrimPrefix(handle, "@"))] = map[string]any{
		"id":             channelID,
		"snippet":        map[string]any{"title": title},
		"contentDetails": map[string]any{"relatedPlaylists": map[string]any{"uploads": "UU" + channelID[2:]}},
	}
}

// AddUpload appends a video to channelID's uploads playlist.
func (m *MockYouTubeServer) AddUpload(channelID, videoID, title string, publishedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl := "UU" + channelID[2:]
	m.uploads[pl] = append(m.uploads[pl], map[string]any{"snippet": map[string]any{
		"title": title, "description": "about " + title, "publishedAt": publishedAt.UTC().Format(time.RFC3339),
		"resourceId": map[string]any{"kind": "youtube#video", "videoId": videoID},
	}})
}

// FailUploads makes channelID's playlist lookup fail.
func (m *MockYouTubeServer) FailUploads(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing["UU"+channelID[2:]] = true
}

// Calls returns how many requests hit the given path ("channels" or "playlistItems").
func (m *MockYouTubeServer) Calls(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[endpoint]
}

func (m *MockYouTubeServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls["channels"]++
	ch, ok := m.channels[strings.ToLower(r.URL.Query().Get("forHandle"))]
	m.mu.Unlock()
	items := []map[string]any{}
	if ok {
		items = append(items, ch)
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": "youtube#channelListResponse", "items": items})
}

func (m *MockYouTubeServer) handlePlaylistItems(w http.ResponseWriter, r *http.Request) {
	pl := r.URL.Query().Get("playlistId")
	m.mu.Lock()
	m.calls["playlistItems"]++
	failed := m.failing[pl]
	items := append([]map[string]any{}, m.uploads[pl]...)
	m.mu.Unlock()
	if failed {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": 500, "message": "backend error"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": "youtube#playlistItemListResponse", "items": items})
}
