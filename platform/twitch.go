// Package platform implements announce.Source for each upstream: live streams
// on Twitch and channel uploads on YouTube.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/twitchapi"
)

const (
	twitchColor       = 0x6441A5
	twitchFooter      = "Twitch Stream Announcement"
	twitchPreviewURL  = "https://static-cdn.jtvnw.net/previews-ttv/live_user_%s-1920x1080.jpg"
	twitchChannelURL  = "https://twitch.tv/%s"
	defaultStreamName = "No Title"
	defaultGameName   = "Unknown Game"
)

// StreamLookup is the Helix surface TwitchSource needs.
type StreamLookup interface {
	GetStreams(ctx context.Context, logins []string) ([]twitchapi.Stream, error)
	GetUsers(ctx context.Context, logins []string) ([]twitchapi.User, error)
}

// TwitchSource resolves watched Twitch logins into live sessions, batching
// logins up to the Helix cap per request.
type TwitchSource struct {
	helix     StreamLookup
	limiter   *rate.Limiter
	batchSize int
}

// NewTwitchSource builds a source. A nil limiter disables pacing.
func NewTwitchSource(helix StreamLookup, limiter *rate.Limiter) *TwitchSource {
	return &TwitchSource{helix: helix, limiter: limiter, batchSize: twitchapi.MaxLoginsPerRequest}
}

func (s *TwitchSource) Platform() announce.Platform { return announce.PlatformTwitch }

func (s *TwitchSource) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Resolve returns one candidate per live stream, in Helix response order
// within each batch. A failed batch is reported in the joined error and the
// remaining batches still run.
func (s *TwitchSource) Resolve(ctx context.Context, accounts []announce.WatchedAccount) ([]announce.Candidate, error) {
	registered := make(map[string]announce.WatchedAccount, len(accounts))
	logins := make([]string, 0, len(accounts))
	for _, a := range accounts {
		login := announce.NormalizeAccount(announce.PlatformTwitch, a.Account)
		if login == "" {
			continue
		}
		if _, dup := registered[login]; dup {
			continue
		}
		registered[login] = a
		logins = append(logins, login)
	}

	var out []announce.Candidate
	var errs []error
	for i, batch := range chunk(logins, s.batchSize) {
		if err := s.wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		streams, err := s.helix.GetStreams(ctx, batch)
		if err != nil {
			errs = append(errs, fmt.Errorf("twitch streams batch %d (%d logins): %w", i, len(batch), err))
			continue
		}
		if len(streams) == 0 {
			continue
		}
		profiles, err := s.profiles(ctx, streams)
		if err != nil {
			// Registration-time metadata is good enough for the announcement.
			errs = append(errs, fmt.Errorf("twitch users batch %d: %w", i, err))
		}
		for _, st := range streams {
			login := strings.ToLower(st.UserLogin)
			out = append(out, s.candidate(st, registered[login], profiles[login]))
		}
	}
	return out, errors.Join(errs...)
}

func (s *TwitchSource) profiles(ctx context.Context, streams []twitchapi.Stream) (map[string]twitchapi.User, error) {
	logins := make([]string, 0, len(streams))
	for _, st := range streams {
		logins = append(logins, strings.ToLower(st.UserLogin))
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	users, err := s.helix.GetUsers(ctx, logins)
	if err != nil {
		return nil, err
	}
	out := make(map[string]twitchapi.User, len(users))
	for _, u := range users {
		out[strings.ToLower(u.Login)] = u
	}
	return out, nil
}

func (s *TwitchSource) candidate(st twitchapi.Stream, reg announce.WatchedAccount, profile twitchapi.User) announce.Candidate {
	login := strings.ToLower(st.UserLogin)
	display := firstNonEmpty(profile.DisplayName, st.UserName, reg.DisplayName, login)
	return announce.Candidate{
		ItemID:       st.ID,
		AccountID:    login,
		Title:        firstNonEmpty(st.Title, defaultStreamName),
		Secondary:    firstNonEmpty(st.GameName, defaultGameName),
		DisplayName:  display,
		ImageURL:     fmt.Sprintf(twitchPreviewURL, login),
		ThumbnailURL: firstNonEmpty(profile.ProfileImageURL, reg.ProfileImageURL),
		URL:          fmt.Sprintf(twitchChannelURL, login),
		PublishedAt:  st.StartedAt,
	}
}

// Render builds the live announcement.
func (s *TwitchSource) Render(c announce.Candidate) announce.Announcement {
	return announce.Announcement{
		ItemID: c.ItemID,
		Title:  "🔴 " + c.DisplayName + " is live!",
		Description: fmt.Sprintf("**%s**\nNow playing: %s\n[Watch here](%s)",
			c.Title, c.Secondary, c.URL),
		URL:          c.URL,
		ImageURL:     c.ImageURL,
		ThumbnailURL: c.ThumbnailURL,
		Footer:       twitchFooter,
		Color:        twitchColor,
		Timestamp:    c.PublishedAt,
	}
}

func chunk(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var out [][]string
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
