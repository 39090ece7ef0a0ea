package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/youtubeapi"
)

const (
	youtubeColor      = 0xFF0000
	youtubeFooter     = "YouTube Video Announcement"
	youtubeWatchURL   = "https://www.youtube.com/watch?v=%s"
	youtubeThumbURL   = "https://img.youtube.com/vi/%s/maxresdefault.jpg"
	descriptionLimit  = 200
	DefaultFreshness  = 24 * time.Hour
	DefaultRecentSize = 5
)

// UploadFeed is the YouTube surface YouTubeSource needs.
type UploadFeed interface {
	ResolveHandle(ctx context.Context, handle string) (*youtubeapi.Channel, error)
	RecentUploads(ctx context.Context, playlistID string, n int) ([]youtubeapi.Upload, error)
}

// YouTubeOptions tunes a YouTubeSource. Zero values take the defaults.
type YouTubeOptions struct {
	Recent    int
	Freshness time.Duration
	Limiter   *rate.Limiter
	Now       func() time.Time
}

// YouTubeSource resolves watched @handles into recent uploads. Each account
// costs one upload-feed request; the handle lookup is cached per source.
type YouTubeSource struct {
	feed      UploadFeed
	recent    int
	freshness time.Duration
	limiter   *rate.Limiter
	now       func() time.Time

	mu       sync.Mutex
	channels map[string]youtubeapi.Channel
}

// NewYouTubeSource builds a source over feed.
func NewYouTubeSource(feed UploadFeed, opts YouTubeOptions) *YouTubeSource {
	if opts.Recent <= 0 {
		opts.Recent = DefaultRecentSize
	}
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &YouTubeSource{
		feed:      feed,
		recent:    opts.Recent,
		freshness: opts.Freshness,
		limiter:   opts.Limiter,
		now:       opts.Now,
		channels:  make(map[string]youtubeapi.Channel),
	}
}

func (s *YouTubeSource) Platform() announce.Platform { return announce.PlatformYouTube }

func (s *YouTubeSource) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *YouTubeSource) channel(ctx context.Context, handle string) (youtubeapi.Channel, error) {
	key := strings.ToLower(handle)
	s.mu.Lock()
	ch, ok := s.channels[key]
	s.mu.Unlock()
	if ok {
		return ch, nil
	}
	if err := s.wait(ctx); err != nil {
		return youtubeapi.Channel{}, err
	}
	resolved, err := s.feed.ResolveHandle(ctx, handle)
	if err != nil {
		return youtubeapi.Channel{}, err
	}
	s.mu.Lock()
	s.channels[key] = *resolved
	s.mu.Unlock()
	return *resolved, nil
}

// Resolve returns the uploads published within the freshness window for every
// account, newest first per account. Accounts that fail are skipped and
// reported in the joined error.
func (s *YouTubeSource) Resolve(ctx context.Context, accounts []announce.WatchedAccount) ([]announce.Candidate, error) {
	var out []announce.Candidate
	var errs []error
	now := s.now()
	for _, a := range accounts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		handle := strings.TrimSpace(a.Account)
		if !strings.HasPrefix(handle, "@") {
			slog.Warn("skipping youtube account without @ handle",
				slog.String("component", "youtube_source"), slog.String("account", handle))
			continue
		}
		ch, err := s.channel(ctx, handle)
		if err != nil {
			errs = append(errs, fmt.Errorf("youtube %s: resolve handle: %w", handle, err))
			continue
		}
		if err := s.wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		uploads, err := s.feed.RecentUploads(ctx, ch.UploadsPlaylistID, s.recent)
		if err != nil {
			errs = append(errs, fmt.Errorf("youtube %s: recent uploads: %w", handle, err))
			if len(uploads) == 0 {
				continue
			}
		}
		for _, u := range uploads {
			if now.Sub(u.PublishedAt) > s.freshness {
				continue
			}
			out = append(out, announce.Candidate{
				ItemID:       u.VideoID,
				AccountID:    handle,
				Title:        u.Title,
				DisplayName:  firstNonEmpty(u.ChannelTitle, ch.Title, a.DisplayName, handle),
				Description:  truncate(u.Description, descriptionLimit),
				ImageURL:     fmt.Sprintf(youtubeThumbURL, u.VideoID),
				ThumbnailURL: a.ProfileImageURL,
				URL:          fmt.Sprintf(youtubeWatchURL, u.VideoID),
				PublishedAt:  u.PublishedAt,
			})
		}
	}
	return out, errors.Join(errs...)
}

// Render builds the upload announcement.
func (s *YouTubeSource) Render(c announce.Candidate) announce.Announcement {
	desc := fmt.Sprintf("**%s**", c.Title)
	if c.Description != "" {
		desc += "\n" + c.Description
	}
	desc += fmt.Sprintf("\n[Watch here](%s)", c.URL)
	return announce.Announcement{
		ItemID:       c.ItemID,
		Title:        "📺 " + c.DisplayName + " uploaded a new video!",
		Description:  desc,
		URL:          c.URL,
		ImageURL:     c.ImageURL,
		ThumbnailURL: c.ThumbnailURL,
		Footer:       youtubeFooter,
		Color:        youtubeColor,
		Timestamp:    c.PublishedAt,
	}
}

// truncate shortens s to limit runes, appending "..." when cut.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
