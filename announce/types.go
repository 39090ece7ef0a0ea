// Package announce holds the polling, deduplication and dispatch pipeline.
//
// A Sweeper walks every guild for one platform, asks that platform's Source
// for candidate items, claims each unseen item in the Ledger and hands the
// rendered Announcement to a MessageSink. Claimed ids are written back to the
// StateStore once per sweep.
package announce

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Platform names an upstream content source.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformTwitch, PlatformYouTube}

// ParsePlatform accepts the platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformTwitch:
		return PlatformTwitch, nil
	case PlatformYouTube:
		return PlatformYouTube, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// NormalizeAccount returns the stored form of an account identifier:
// Twitch logins are lower-case, YouTube handles always start with '@'.
func NormalizeAccount(p Platform, account string) string {
	account = strings.TrimSpace(account)
	switch p {
	case PlatformTwitch:
		return strings.ToLower(account)
	case PlatformYouTube:
		if account != "" && !strings.HasPrefix(account, "@") {
			return "@" + account
		}
	}
	return account
}

// WatchedAccount is a registered upstream account. The metadata is captured
// at registration time and never re-synced by the pipeline.
type WatchedAccount struct {
	Platform        Platform
	Account         string
	DisplayName     string
	ProfileImageURL string
	CreatedAt       time.Time
	RegisteredAt    time.Time
}

// Candidate is a live session or upload found by a Source, not yet known to
// have been announced.
type Candidate struct {
	ItemID       string
	AccountID    string
	Title        string
	Secondary    string
	DisplayName  string
	Description  string
	ImageURL     string
	ThumbnailURL string
	URL          string
	PublishedAt  time.Time
}

// Announcement is the rendered message handed to a MessageSink.
type Announcement struct {
	ItemID       string
	Title        string
	Description  string
	URL          string
	ImageURL     string
	ThumbnailURL string
	Footer       string
	Color        int
	Timestamp    time.Time
}

// Source is the per-platform capability the sweep relies on.
//
// Resolve returns every candidate it could resolve together with the joined
// errors of the batches or accounts it could not; a non-nil error does not
// mean the candidate list is empty.
type Source interface {
	Platform() Platform
	Resolve(ctx context.Context, accounts []WatchedAccount) ([]Candidate, error)
	Render(c Candidate) Announcement
}

// StateStore is the durable state the pipeline reads and the one record it
// writes. Absent values are returned as empty with a nil error.
type StateStore interface {
	ListAllGuilds(ctx context.Context) ([]string, error)
	GetDestination(ctx context.Context, guildID string, p Platform) (string, error)
	GetWatchedAccounts(ctx context.Context, guildID string, p Platform) ([]WatchedAccount, error)
	GetAnnouncedIDs(ctx context.Context, guildID string) (map[string]struct{}, error)
	// SaveAnnouncedIDs adds ids to the guild's announced set. Existing ids are kept.
	SaveAnnouncedIDs(ctx context.Context, guildID string, ids []string) error
}

// MessageSink delivers an announcement to a destination channel.
type MessageSink interface {
	Deliver(ctx context.Context, channelID string, a Announcement) error
}
