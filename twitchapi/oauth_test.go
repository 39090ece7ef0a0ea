package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// tokenServer behaves like the Twitch token endpoint: client credentials must
// be in the form body, Basic auth is rejected.
func tokenServer(t *testing.T, status int, body map[string]any, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if _, _, ok := r.BasicAuth(); ok {
			t.Errorf("client credentials sent as basic auth")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "old-refresh" {
			t.Errorf("refresh_token = %q", r.Form.Get("refresh_token"))
		}
		if r.Form.Get("client_id") != "cid" || r.Form.Get("client_secret") != "csecret" {
			t.Errorf("client credentials not sent in params: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAuthenticatorRefresh(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       map[string]any
		wantErr    bool
		wantAccess string
	}{
		{
			name:   "rotated pair",
			status: http.StatusOK,
			body: map[string]any{
				"access_token": "new-access", "refresh_token": "new-refresh",
				"token_type": "bearer", "expires_in": 14400, "scope": []string{"user:read:email"},
			},
			wantAccess: "new-access",
		},
		{
			name:    "missing refresh token",
			status:  http.StatusOK,
			body:    map[string]any{"access_token": "new-access", "token_type": "bearer", "expires_in": 14400},
			wantErr: true,
		},
		{
			name:    "rejected",
			status:  http.StatusBadRequest,
			body:    map[string]any{"status": 400, "message": "Invalid refresh token"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := tokenServer(t, tt.status, tt.body, &calls)
			a := &Authenticator{
				ClientID: "cid", ClientSecret: "csecret",
				TokenURL: server.URL + "/oauth2/token", HTTPClient: &http.Client{Timeout: 5 * time.Second},
			}
			res, err := a.Refresh(context.Background(), "old-refresh")
			if n := calls.Load(); n != 1 {
				t.Errorf("token endpoint called %d times, want 1", n)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Refresh() = %+v, want error", res)
				}
				return
			}
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if res.AccessToken != tt.wantAccess || res.RefreshToken != "new-refresh" {
				t.Errorf("Refresh() = %+v", res)
			}
			if time.Until(res.Expiry) < 3*time.Hour {
				t.Errorf("expiry = %v, want ~4h ahead", res.Expiry)
			}
		})
	}
}

func TestAuthenticatorRefreshMissingInput(t *testing.T) {
	a := &Authenticator{ClientID: "cid"}
	if _, err := a.Refresh(context.Background(), "r"); err == nil {
		t.Fatal("expected error without client secret")
	}
}
