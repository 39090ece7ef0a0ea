// Package oauth owns the access/refresh token pair for an upstream platform.
// A CredentialManager refreshes the pair on a fixed schedule, persists the new
// pair before using it, and keeps the previous pair on any failure.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heraldbot/announcer/telemetry"
)

// Credentials is the full credential record for one platform.
type Credentials struct {
	Platform     string
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	UpdatedAt    time.Time
}

// CredentialStore is where credentials are loaded from and refreshed tokens written to.
type CredentialStore interface {
	// LoadCredentials returns nil with a nil error when no record exists.
	LoadCredentials(ctx context.Context, platform string) (*Credentials, error)
	// SaveTokens replaces both tokens in a single write.
	SaveTokens(ctx context.Context, platform, accessToken, refreshToken string) error
}

// RefreshFunc exchanges the held refresh token for a new pair.
type RefreshFunc func(ctx context.Context, c Credentials) (accessToken, refreshToken string, err error)

// State of a CredentialManager.
type State int

const (
	StateValid State = iota
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrIncompleteRefresh is recorded when an exchange returns without both tokens.
var ErrIncompleteRefresh = errors.New("refresh response is missing the access or refresh token")

// Status is a point-in-time view of a manager for status endpoints.
type Status struct {
	Platform    string    `json:"platform"`
	Loaded      bool      `json:"loaded"`
	State       string    `json:"state"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// CredentialManager holds one platform's credential pair.
type CredentialManager struct {
	platform string
	store    CredentialStore
	refresh  RefreshFunc
	timeout  time.Duration

	refreshMu sync.Mutex // serialises Refresh

	mu          sync.RWMutex
	creds       *Credentials
	state       State
	lastErr     error
	lastRefresh time.Time
	hooks       []func(context.Context, Credentials)
}

// NewCredentialManager builds a manager. timeout bounds a single exchange; zero means 15s.
func NewCredentialManager(platform string, store CredentialStore, fn RefreshFunc, timeout time.Duration) *CredentialManager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CredentialManager{platform: platform, store: store, refresh: fn, timeout: timeout}
}

// Platform returns the platform this manager serves.
func (m *CredentialManager) Platform() string { return m.platform }

// Load reads the credential record from the store. It reports false when none exists.
func (m *CredentialManager) Load(ctx context.Context) (bool, error) {
	c, err := m.store.LoadCredentials(ctx, m.platform)
	if err != nil {
		return false, fmt.Errorf("load %s credentials: %w", m.platform, err)
	}
	if c == nil {
		return false, nil
	}
	m.mu.Lock()
	cp := *c
	m.creds = &cp
	m.mu.Unlock()
	m.publishState()
	return true, nil
}

// Current returns a copy of the held pair.
func (m *CredentialManager) Current() (Credentials, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return Credentials{}, false
	}
	return *m.creds, true
}

// State returns the current state.
func (m *CredentialManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a snapshot for reporting.
func (m *CredentialManager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{Platform: m.platform, Loaded: m.creds != nil, State: m.state.String(), LastRefresh: m.lastRefresh}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// OnRefresh registers fn to run with the new pair after every successful refresh.
func (m *CredentialManager) OnRefresh(fn func(ctx context.Context, c Credentials)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Refresh runs one exchange. Failures are logged and leave the held and stored
// pair untouched; the resulting state is returned for observability only.
func (m *CredentialManager) Refresh(ctx context.Context) State {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "credentials"), slog.String("platform", m.platform))

	cur, ok := m.Current()
	if !ok {
		loaded, err := m.Load(ctx)
		if err != nil {
			log.Error("credential load failed", slog.Any("err", err))
			return m.fail(err)
		}
		if !loaded {
			log.Warn("credentials not loaded, skipping refresh")
			return m.State()
		}
		cur, _ = m.Current()
	}

	ctx, span := telemetry.StartSpan(ctx, "credentials.refresh", telemetry.PlatformAttr(m.platform))
	defer span.End()

	m.setState(StateRefreshing, nil)

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	access, refresh, err := m.refresh(rctx, cur)
	cancel()
	if err == nil && (access == "" || refresh == "") {
		err = ErrIncompleteRefresh
	}
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("token refresh failed, keeping previous tokens", slog.Any("err", err))
		return m.fail(err)
	}

	if err := m.store.SaveTokens(ctx, m.platform, access, refresh); err != nil {
		telemetry.RecordError(span, err)
		log.Error("token persist failed, keeping previous tokens", slog.Any("err", err))
		return m.fail(fmt.Errorf("persist tokens: %w", err))
	}

	m.mu.Lock()
	m.creds.AccessToken = access
	m.creds.RefreshToken = refresh
	m.creds.UpdatedAt = time.Now().UTC()
	m.lastRefresh = m.creds.UpdatedAt
	m.state = StateValid
	m.lastErr = nil
	next := *m.creds
	hooks := append([]func(context.Context, Credentials){}, m.hooks...)
	m.mu.Unlock()

	m.publishState()
	telemetry.RecordTokenRefresh(m.platform, true)
	telemetry.SetSpanSuccess(span)
	log.Info("token refreshed")

	for _, h := range hooks {
		h(ctx, next)
	}
	return StateValid
}

func (m *CredentialManager) fail(err error) State {
	m.setState(StateFailed, err)
	telemetry.RecordTokenRefresh(m.platform, false)
	return StateFailed
}

func (m *CredentialManager) setState(s State, err error) {
	m.mu.Lock()
	m.state = s
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
	m.publishState()
}

func (m *CredentialManager) publishState() {
	telemetry.SetCredentialState(m.platform, int(m.State()))
}
