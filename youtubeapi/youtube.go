// Package youtubeapi wraps the YouTube Data API calls used to follow a
// channel's uploads: resolving an @handle to a channel and listing the most
// recent items of its uploads playlist.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// ErrChannelNotFound is returned when a handle resolves to no channel.
var ErrChannelNotFound = errors.New("youtube channel not found")

// Channel is a resolved channel.
type Channel struct {
	ID                string
	Title             string
	UploadsPlaylistID string
}

// Upload is one item of an uploads playlist.
type Upload struct {
	VideoID      string
	Title        string
	Description  string
	ChannelTitle string
	PublishedAt  time.Time
}

// Client is a thin YouTube Data API client.
type Client struct {
	svc *yt.Service
}

// New builds a client from explicit client options.
func New(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// NewWithAPIKey builds a key-authenticated client whose requests time out after timeout.
// endpoint overrides the API base URL when non-empty.
func NewWithAPIKey(ctx context.Context, apiKey string, timeout time.Duration, endpoint string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key empty")
	}
	hc := &http.Client{
		Timeout:   timeout,
		Transport: &transport.APIKey{Key: apiKey, Transport: http.DefaultTransport},
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return New(ctx, opts...)
}

// ResolveHandle looks up a channel by handle, with or without the leading '@'.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (*Channel, error) {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if h == "" {
		return nil, errors.New("handle empty")
	}
	resp, err := c.svc.Channels.List([]string{"id", "snippet", "contentDetails"}).ForHandle(h).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list %s: %w", handle, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%s: %w", handle, ErrChannelNotFound)
	}
	item := resp.Items[0]
	ch := &Channel{ID: item.Id}
	if item.Snippet != nil {
		ch.Title = item.Snippet.Title
	}
	if item.ContentDetails != nil && item.ContentDetails.RelatedPlaylists != nil {
		ch.UploadsPlaylistID = item.ContentDetails.RelatedPlaylists.Uploads
	}
	if ch.UploadsPlaylistID == "" {
		ch.UploadsPlaylistID = UploadsPlaylistFor(ch.ID)
	}
	return ch, nil
}

// UploadsPlaylistFor derives the uploads playlist id from a "UC..." channel id.
func UploadsPlaylistFor(channelID string) string {
	if len(channelID) < 2 {
		return ""
	}
	return "UU" + channelID[2:]
}

// RecentUploads returns up to n items of playlistID, newest first. Items with
// an unparseable publish time are dropped and reported in the joined error.
func (c *Client) RecentUploads(ctx context.Context, playlistID string, n int) ([]Upload, error) {
	if playlistID == "" {
		return nil, errors.New("playlist id empty")
	}
	if n <= 0 {
		n = 5
	}
	resp, err := c.svc.PlaylistItems.List([]string{"snippet"}).PlaylistId(playlistID).MaxResults(int64(n)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("playlistItems.list %s: %w", playlistID, err)
	}
	var errs []error
	out := make([]Upload, 0, len(resp.Items))
	for _, item := range resp.Items {
		sn := item.Snippet
		if sn == nil || sn.ResourceId == nil || sn.ResourceId.VideoId == "" {
			continue
		}
		published, err := time.Parse(time.RFC3339, sn.PublishedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("video %s: bad publishedAt %q: %w", sn.ResourceId.VideoId, sn.PublishedAt, err))
			continue
		}
		out = append(out, Upload{
			VideoID:      sn.ResourceId.VideoId,
			Title:        sn.Title,
			Description:  sn.Description,
			ChannelTitle: sn.ChannelTitle,
			PublishedAt:  published,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, errors.Join(errs...)
}
