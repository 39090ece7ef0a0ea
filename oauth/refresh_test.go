package oauth_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heraldbot/announcer/crypto"
	"github.com/heraldbot/announcer/db"
	"github.com/heraldbot/announcer/oauth"
	"github.com/heraldbot/announcer/testutil"
	"github.com/heraldbot/announcer/twitchapi"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=" // 32 bytes

type rawTokens struct{ access, refresh, updated string }

func readRaw(t *testing.T, store *db.Store) rawTokens {
	t.Helper()
	var r rawTokens
	err := store.DB().QueryRow(`SELECT access_token, refresh_token, updated_at FROM credentials WHERE platform='twitch'`).
		Scan(&r.access, &r.refresh, &r.updated)
	if err != nil {
		t.Fatalf("read credentials row: %v", err)
	}
	return r
}

func seededStore(t *testing.T) *db.Store {
	t.Helper()
	sealer, err := crypto.NewAESSealer(testKey)
	if err != nil {
		t.Fatalf("NewAESSealer() error = %v", err)
	}
	store := testutil.SetupTestStore(t, sealer)
	err = store.SaveCredentials(context.Background(), oauth.Credentials{
		Platform: "twitch", ClientID: "cid", ClientSecret: "secret",
		AccessToken: "old-access", RefreshToken: "old-refresh",
	})
	if err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}
	return store
}

func twitchRefresher(mock *testutil.MockTwitchServer) oauth.RefreshFunc {
	return func(ctx context.Context, c oauth.Credentials) (string, string, error) {
		auth := &twitchapi.Authenticator{
			ClientID: c.ClientID, ClientSecret: c.ClientSecret,
			TokenURL: mock.TokenURL(), HTTPClient: &http.Client{Timeout: 5 * time.Second},
		}
		res, err := auth.Refresh(ctx, c.RefreshToken)
		if err != nil {
			return "", "", err
		}
		return res.AccessToken, res.RefreshToken, nil
	}
}

func TestRefreshSuccessReplacesBothTokens(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse(http.StatusOK, "new-access", "new-refresh")

	m := oauth.NewCredentialManager("twitch", store, twitchRefresher(mock), 0)
	var hookCalls atomic.Int32
	var hookToken atomic.Value
	m.OnRefresh(func(_ context.Context, c oauth.Credentials) {
		hookCalls.Add(1)
		hookToken.Store(c.AccessToken)
	})

	if state := m.Refresh(ctx); state != oauth.StateValid {
		t.Fatalf("Refresh() = %v, want valid", state)
	}
	cur, ok := m.Current()
	if !ok || cur.AccessToken != "new-access" || cur.RefreshToken != "new-refresh" {
		t.Errorf("held pair = %+v", cur)
	}
	stored, err := store.LoadCredentials(ctx, "twitch")
	if err != nil || stored == nil {
		t.Fatalf("LoadCredentials() = %v, %v", stored, err)
	}
	if stored.AccessToken != "new-access" || stored.RefreshToken != "new-refresh" {
		t.Errorf("stored pair = %s/%s", stored.AccessToken, stored.RefreshToken)
	}
	if hookCalls.Load() != 1 || hookToken.Load() != "new-access" {
		t.Errorf("hook calls = %d, token = %v", hookCalls.Load(), hookToken.Load())
	}
	if st := m.Status(); st.LastRefresh.IsZero() || st.LastError != "" || st.State != "valid" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestRefreshFailureKeepsStoredTokens(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		refresh string
	}{
		{"rejected", http.StatusBadRequest, ""},
		{"missing refresh token", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := seededStore(t)
			before := readRaw(t, store)

			mock := testutil.NewMockTwitchServer(t)
			mock.MockOAuthTokenResponse(tt.status, "new-access", tt.refresh)
			m := oauth.NewCredentialManager("twitch", store, twitchRefresher(mock), 0)
			m.OnRefresh(func(context.Context, oauth.Credentials) { t.Error("hook ran after failed refresh") })

			if state := m.Refresh(ctx); state != oauth.StateFailed {
				t.Fatalf("Refresh() = %v, want failed", state)
			}
			if after := readRaw(t, store); after != before {
				t.Errorf("stored row changed:\nbefore %+v\nafter  %+v", before, after)
			}
			cur, _ := m.Current()
			if cur.AccessToken != "old-access" || cur.RefreshToken != "old-refresh" {
				t.Errorf("held pair changed: %+v", cur)
			}
			if m.Status().LastError == "" {
				t.Error("last error not recorded")
			}
		})
	}
}

func TestRefreshIncompletePairIsFailure(t *testing.T) {
	store := seededStore(t)
	m := oauth.NewCredentialManager("twitch", store, func(context.Context, oauth.Credentials) (string, string, error) {
		return "only-access", "", nil
	}, 0)
	if state := m.Refresh(context.Background()); state != oauth.StateFailed {
		t.Fatalf("Refresh() = %v, want failed", state)
	}
	if got := m.Status().LastError; got != oauth.ErrIncompleteRefresh.Error() {
		t.Errorf("LastError = %q", got)
	}
}

func TestRefreshWithoutCredentialsSkips(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	var calls atomic.Int32
	m := oauth.NewCredentialManager("twitch", store, func(context.Context, oauth.Credentials) (string, string, error) {
		calls.Add(1)
		return "a", "b", nil
	}, 0)
	if state := m.Refresh(context.Background()); state != oauth.StateValid {
		t.Errorf("Refresh() = %v, want unchanged valid state", state)
	}
	if calls.Load() != 0 {
		t.Error("refresh exchange attempted without credentials")
	}
	if m.Status().Loaded {
		t.Error("Status reports loaded credentials")
	}
}

func TestRefreshRecoversAfterFailure(t *testing.T) {
	store := seededStore(t)
	fail := true
	m := oauth.NewCredentialManager("twitch", store, func(context.Context, oauth.Credentials) (string, string, error) {
		if fail {
			return "", "", errors.New("upstream down")
		}
		return "a2", "r2", nil
	}, 0)
	ctx := context.Background()
	if m.Refresh(ctx) != oauth.StateFailed {
		t.Fatal("first refresh should fail")
	}
	fail = false
	if m.Refresh(ctx) != oauth.StateValid {
		t.Fatal("second refresh should succeed")
	}
	if m.Status().LastError != "" {
		t.Error("error not cleared after recovery")
	}
}

type failingSaveStore struct {
	oauth.CredentialStore
}

func (failingSaveStore) SaveTokens(context.Context, string, string, string) error {
	return errors.New("disk full")
}

func TestRefreshPersistFailureKeepsHeldPair(t *testing.T) {
	store := seededStore(t)
	m := oauth.NewCredentialManager("twitch", failingSaveStore{store}, func(context.Context, oauth.Credentials) (string, string, error) {
		return "a2", "r2", nil
	}, 0)
	if m.Refresh(context.Background()) != oauth.StateFailed {
		t.Fatal("refresh should fail when the pair cannot be persisted")
	}
	cur, _ := m.Current()
	if cur.AccessToken != "old-access" {
		t.Errorf("held access token = %q, want old-access", cur.AccessToken)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[oauth.State]string{
		oauth.StateValid: "valid", oauth.StateRefreshing: "refreshing", oauth.StateFailed: "failed", oauth.State(9): "State(9)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
