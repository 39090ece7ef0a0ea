package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewWithAPIKey(context.Background(), "test-key", 5*time.Second, server.URL+"/")
	if err != nil {
		t.Fatalf("NewWithAPIKey: %v", err)
	}
	return c
}

func TestResolveHandle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key not sent: %s", r.URL.RawQuery)
		}
		if r.URL.Path != "/youtube/v3/channels" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch r.URL.Query().Get("forHandle") {
		case "creator":
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{
				"id":             "UCabc123",
				"snippet":        map[string]any{"title": "Creator"},
				"contentDetails": map[string]any{"relatedPlaylists": map[string]any{"uploads": "UUabc123"}},
			}}})
		case "nodetails":
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"id": "UCxyz"}}})
		default:
			json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
		}
	})
	ctx := context.Background()

	ch, err := c.ResolveHandle(ctx, "@creator")
	if err != nil {
		t.Fatalf("ResolveHandle: %v", err)
	}
	if ch.ID != "UCabc123" || ch.Title != "Creator" || ch.UploadsPlaylistID != "UUabc123" {
		t.Errorf("channel = %+v", ch)
	}

	ch, err = c.ResolveHandle(ctx, "@nodetails")
	if err != nil || ch.UploadsPlaylistID != "UUxyz" {
		t.Errorf("fallback playlist = %+v, %v", ch, err)
	}

	if _, err := c.ResolveHandle(ctx, "@missing"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
	if _, err := c.ResolveHandle(ctx, "@"); err == nil {
		t.Error("expected error for empty handle")
	}
}

func TestRecentUploads(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/youtube/v3/playlistItems" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("playlistId") != "UUabc" || r.URL.Query().Get("maxResults") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		item := func(id string, at string) map[string]any {
			return map[string]any{"snippet": map[string]any{
				"title": "Video " + id, "description": "desc", "channelTitle": "Creator",
				"publishedAt": at, "resourceId": map[string]any{"kind": "youtube#video", "videoId": id},
			}}
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []any{
			item("old", now.Add(-48*time.Hour).Format(time.RFC3339)),
			item("new", now.Add(-time.Hour).Format(time.RFC3339)),
			item("bad", "yesterday"),
		}})
	})

	uploads, err := c.RecentUploads(context.Background(), "UUabc", 5)
	if err == nil {
		t.Error("expected joined error for unparseable publish time")
	}
	if len(uploads) != 2 {
		t.Fatalf("got %d uploads, want 2", len(uploads))
	}
	if uploads[0].VideoID != "new" || uploads[1].VideoID != "old" {
		t.Errorf("order = %s, %s; want newest first", uploads[0].VideoID, uploads[1].VideoID)
	}
	if uploads[0].ChannelTitle != "Creator" || !uploads[0].PublishedAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("upload = %+v", uploads[0])
	}
}

func TestUpstreamErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 403, "message": "quotaExceeded"}})
	})
	if _, err := c.RecentUploads(context.Background(), "UUabc", 5); err == nil {
		t.Fatal("expected quota error")
	}
}

func TestUploadsPlaylistFor(t *testing.T) {
	if got := UploadsPlaylistFor("UC123"); got != "UU123" {
		t.Errorf("UploadsPlaylistFor = %q", got)
	}
	if got := UploadsPlaylistFor("U"); got != "" {
		t.Errorf("short id = %q, want empty", got)
	}
}

func TestNewWithAPIKeyRequiresKey(t *testing.T) {
	if _, err := NewWithAPIKey(context.Background(), "", time.Second, ""); err == nil {
		t.Fatal("expected error without api key")
	}
}
