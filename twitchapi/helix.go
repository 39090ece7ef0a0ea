// Package twitchapi wraps the Twitch Helix endpoints the announcer polls
// (batched live-stream and user lookups) and the OAuth refresh exchange.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
)

// MaxLoginsPerRequest is Helix's cap on user_login / login query values.
const MaxLoginsPerRequest = 100

// ErrNoCredentials is returned when no client id or access token is configured.
var ErrNoCredentials = errors.New("twitch credentials not loaded")

// Stream is a live stream as reported by Helix.
type Stream struct {
	ID           string
	UserID       string
	UserLogin    string
	UserName     string
	GameName     string
	Title        string
	ThumbnailURL string
	ViewerCount  int
	StartedAt    time.Time
}

// User is a Helix user profile.
type User struct {
	ID              string
	Login           string
	DisplayName     string
	ProfileImageURL string
	CreatedAt       time.Time
}

// APIError is a non-2xx Helix response.
type APIError struct {
	Endpoint string
	Status   int
	Err      string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix %s: %d %s: %s", e.Endpoint, e.Status, e.Err, e.Message)
}

// HelixClient issues Helix requests with the current user access token.
// The token can be swapped at any time; in-flight requests keep the old one.
type HelixClient struct {
	ClientID   string
	APIBaseURL string
	HTTPClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewHelixClient builds a client. httpClient should carry a request timeout.
func NewHelixClient(clientID, accessToken string, httpClient *http.Client) *HelixClient {
	return &HelixClient{ClientID: clientID, HTTPClient: httpClient, token: accessToken}
}

// SetAccessToken replaces the bearer token used for subsequent requests.
func (hc *HelixClient) SetAccessToken(token string) {
	hc.mu.Lock()
	hc.token = token
	hc.mu.Unlock()
}

// SetClientID replaces the client id used for subsequent requests.
func (hc *HelixClient) SetClientID(id string) {
	hc.mu.Lock()
	hc.ClientID = id
	hc.mu.Unlock()
}

// Ready reports whether both a client id and token are present.
func (hc *HelixClient) Ready() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ClientID != "" && hc.token != ""
}

// contextDoer binds a request context to the helix client's HTTP calls.
type contextDoer struct {
	ctx context.Context
	hc  *http.Client
}

func (d contextDoer) Do(req *http.Request) (*http.Response, error) {
	return d.hc.Do(req.WithContext(d.ctx))
}

func (hc *HelixClient) client(ctx context.Context) (*helix.Client, error) {
	hc.mu.RLock()
	clientID, token := hc.ClientID, hc.token
	hc.mu.RUnlock()
	if clientID == "" || token == "" {
		return nil, ErrNoCredentials
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	httpClient := hc.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return helix.NewClient(&helix.Options{
		ClientID:        clientID,
		UserAccessToken: token,
		HTTPClient:      contextDoer{ctx: ctx, hc: httpClient},
		APIBaseURL:      hc.APIBaseURL,
	})
}

// GetStreams returns the live streams among logins. At most MaxLoginsPerRequest
// logins are accepted per call; offline accounts are simply absent.
func (hc *HelixClient) GetStreams(ctx context.Context, logins []string) ([]Stream, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	if len(logins) > MaxLoginsPerRequest {
		return nil, fmt.Errorf("get streams: %d logins exceeds cap of %d", len(logins), MaxLoginsPerRequest)
	}
	c, err := hc.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.GetStreams(&helix.StreamsParams{UserLogins: logins, First: MaxLoginsPerRequest})
	if err != nil {
		return nil, fmt.Errorf("get streams: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Endpoint: "streams", Status: resp.StatusCode, Err: resp.Error, Message: resp.ErrorMessage}
	}
	out := make([]Stream, 0, len(resp.Data.Streams))
	for _, s := range resp.Data.Streams {
		out = append(out, Stream{
			ID:           s.ID,
			UserID:       s.UserID,
			UserLogin:    s.UserLogin,
			UserName:     s.UserName,
			GameName:     s.GameName,
			Title:        s.Title,
			ThumbnailURL: s.ThumbnailURL,
			ViewerCount:  s.ViewerCount,
			StartedAt:    s.StartedAt,
		})
	}
	return out, nil
}

// GetUsers looks up profiles by login. Unknown logins are absent from the result.
func (hc *HelixClient) GetUsers(ctx context.Context, logins []string) ([]User, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	if len(logins) > MaxLoginsPerRequest {
		return nil, fmt.Errorf("get users: %d logins exceeds cap of %d", len(logins), MaxLoginsPerRequest)
	}
	c, err := hc.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.GetUsers(&helix.UsersParams{Logins: logins})
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Endpoint: "users", Status: resp.StatusCode, Err: resp.Error, Message: resp.ErrorMessage}
	}
	out := make([]User, 0, len(resp.Data.Users))
	for _, u := range resp.Data.Users {
		out = append(out, User{
			ID:              u.ID,
			Login:           u.Login,
			DisplayName:     u.DisplayName,
			ProfileImageURL: u.ProfileImageURL,
			CreatedAt:       u.CreatedAt.Time,
		})
	}
	return out, nil
}

// GetUser resolves one login; it returns nil when Twitch does not know it.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	users, err := hc.GetUsers(ctx, []string{login})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}
