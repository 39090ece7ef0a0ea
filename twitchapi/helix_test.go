package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestHelix(t *testing.T, handler http.HandlerFunc) *HelixClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	hc := NewHelixClient("test-client-id", "test-token", &http.Client{Timeout: 5 * time.Second})
	hc.APIBaseURL = server.URL + "/helix"
	return hc
}

func TestHelixClient_GetStreams(t *testing.T) {
	started := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/streams" {
			t.Errorf("path = %s, want /helix/streams", r.URL.Path)
		}
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or wrong Authorization header: %q", r.Header.Get("Authorization"))
		}
		logins := r.URL.Query()["user_login"]
		if strings.Join(logins, ",") != "alice,bob" {
			t.Errorf("user_login = %v", logins)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"id": "s1", "user_id": "1", "user_login": "alice", "user_name": "Alice",
				"game_name": "Chess", "title": "Openings", "viewer_count": 42,
				"started_at": started.Format(time.RFC3339),
			}},
			"pagination": map[string]any{},
		})
	})

	streams, err := hc.GetStreams(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	s := streams[0]
	if s.ID != "s1" || s.UserLogin != "alice" || s.UserName != "Alice" || s.GameName != "Chess" || !s.StartedAt.Equal(started) {
		t.Errorf("unexpected stream: %+v", s)
	}
}

func TestHelixClient_GetStreamsErrors(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": "Unauthorized", "status": 401, "message": "Invalid OAuth token"})
	})

	_, err := hc.GetStreams(context.Background(), []string{"alice"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want APIError 401", err)
	}

	tooMany := make([]string, MaxLoginsPerRequest+1)
	if _, err := hc.GetStreams(context.Background(), tooMany); err == nil {
		t.Error("expected error above the login cap")
	}
	if got, err := hc.GetStreams(context.Background(), nil); err != nil || got != nil {
		t.Errorf("empty logins = %v, %v", got, err)
	}
}

func TestHelixClient_NoCredentials(t *testing.T) {
	hc := NewHelixClient("", "", nil)
	if hc.Ready() {
		t.Fatal("client without credentials reports ready")
	}
	if _, err := hc.GetStreams(context.Background(), []string{"alice"}); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
	hc.SetClientID("id")
	hc.SetAccessToken("tok")
	if !hc.Ready() {
		t.Fatal("client with credentials not ready")
	}
}

func TestHelixClient_SetAccessToken(t *testing.T) {
	var seen []string
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	ctx := context.Background()
	if _, err := hc.GetUsers(ctx, []string{"alice"}); err != nil {
		t.Fatal(err)
	}
	hc.SetAccessToken("rotated")
	if _, err := hc.GetUsers(ctx, []string{"alice"}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != "Bearer test-token" || seen[1] != "Bearer rotated" {
		t.Errorf("authorization headers = %v", seen)
	}
}

func TestHelixClient_GetUser(t *testing.T) {
	created := time.Date(2012, 1, 2, 3, 4, 5, 0, time.UTC)
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("login") == "ghost" {
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{
			"id": "1", "login": "alice", "display_name": "Alice",
			"profile_image_url": "https://img/alice.png", "created_at": created.Format(time.RFC3339),
		}}})
	})
	ctx := context.Background()

	u, err := hc.GetUser(ctx, "alice")
	if err != nil || u == nil {
		t.Fatalf("GetUser = %v, %v", u, err)
	}
	if u.DisplayName != "Alice" || u.ProfileImageURL != "https://img/alice.png" || !u.CreatedAt.Equal(created) {
		t.Errorf("unexpected user: %+v", u)
	}
	if u, err := hc.GetUser(ctx, "ghost"); err != nil || u != nil {
		t.Errorf("unknown user = %v, %v; want nil, nil", u, err)
	}
	if _, err := hc.GetUser(ctx, ""); err == nil {
		t.Error("expected error for empty login")
	}
}

func TestHelixClient_ContextCancelled(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent with a cancelled context")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := hc.GetStreams(ctx, []string{"alice"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
