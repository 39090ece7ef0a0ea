package platform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/testutil"
	"github.com/heraldbot/announcer/youtubeapi"
)

func newMockYouTube(t *testing.T) (*testutil.MockYouTubeServer, *youtubeapi.Client) {
	t.Helper()
	mock := testutil.NewMockYouTubeServer(t)
	client, err := youtubeapi.NewWithAPIKey(context.Background(), "key", 5*time.Second, mock.Endpoint())
	if err != nil {
		t.Fatalf("NewWithAPIKey() error = %v", err)
	}
	return mock, client
}

func TestYouTubeSource_FreshnessWindow(t *testing.T) {
	mock, client := newMockYouTube(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.AddChannel("@creator", "UCcreator", "Creator")
	mock.AddUpload("UCcreator", "fresh", "New video", now.Add(-23*time.Hour))
	mock.AddUpload("UCcreator", "stale", "Old video", now.Add(-25*time.Hour))

	src := NewYouTubeSource(client, YouTubeOptions{Now: func() time.Time { return now }})
	cands, err := src.Resolve(context.Background(), accounts(announce.PlatformYouTube, "@creator"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(cands) != 1 || cands[0].ItemID != "fresh" {
		t.Fatalf("candidates = %+v, want only fresh", cands)
	}
	c := cands[0]
	if c.URL != "https://www.youtube.com/watch?v=fresh" || c.DisplayName != "Creator" {
		t.Errorf("unexpected candidate: %+v", c)
	}
}

func TestYouTubeSource_SkipsAccountsWithoutHandle(t *testing.T) {
	mock, client := newMockYouTube(t)
	src := NewYouTubeSource(client, YouTubeOptions{})

	cands, err := src.Resolve(context.Background(), accounts(announce.PlatformYouTube, "UCsomething", "plainname"))
	if err != nil || len(cands) != 0 {
		t.Fatalf("Resolve() = %+v, %v; want nothing", cands, err)
	}
	if mock.Calls("channels") != 0 {
		t.Error("handle-less accounts should not hit the API")
	}
}

func TestYouTubeSource_CachesHandleResolution(t *testing.T) {
	mock, client := newMockYouTube(t)
	mock.AddChannel("@creator", "UCcreator", "Creator")
	src := NewYouTubeSource(client, YouTubeOptions{})
	accts := accounts(announce.PlatformYouTube, "@creator")

	for i := 0; i < 3; i++ {
		if _, err := src.Resolve(context.Background(), accts); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if got := mock.Calls("channels"); got != 1 {
		t.Errorf("channels.list called %d times, want 1", got)
	}
	if got := mock.Calls("playlistItems"); got != 3 {
		t.Errorf("playlistItems.list called %d times, want 3", got)
	}
}

func TestYouTubeSource_PerAccountFailureIsolated(t *testing.T) {
	mock, client := newMockYouTube(t)
	now := time.Now()
	mock.AddChannel("@good", "UCgood", "Good")
	mock.AddChannel("@broken", "UCbroken", "Broken")
	mock.AddUpload("UCgood", "v1", "Hello", now.Add(-time.Hour))
	mock.FailUploads("UCbroken")

	src := NewYouTubeSource(client, YouTubeOptions{})
	cands, err := src.Resolve(context.Background(), accounts(announce.PlatformYouTube, "@broken", "@missing", "@good"))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, youtubeapi.ErrChannelNotFound) {
		t.Errorf("error = %v, want ErrChannelNotFound in chain", err)
	}
	if !strings.Contains(err.Error(), "@broken") {
		t.Errorf("error does not name failing account: %v", err)
	}
	if len(cands) != 1 || cands[0].ItemID != "v1" {
		t.Fatalf("candidates = %+v, want v1", cands)
	}
}

func TestYouTubeSource_Render(t *testing.T) {
	src := NewYouTubeSource(nil, YouTubeOptions{})
	a := src.Render(announce.Candidate{
		ItemID: "v1", Title: "Hello", DisplayName: "Creator", Description: "desc",
		URL: "https://www.youtube.com/watch?v=v1",
	})
	if a.Title != "📺 Creator uploaded a new video!" {
		t.Errorf("Title = %q", a.Title)
	}
	want := "**Hello**\ndesc\n[Watch here](https://www.youtube.com/watch?v=v1)"
	if a.Description != want {
		t.Errorf("Description = %q, want %q", a.Description, want)
	}
	if a.Color != 0xFF0000 || a.Footer != "YouTube Video Announcement" {
		t.Errorf("unexpected announcement: %+v", a)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", 250)
	got := truncate(long, 200)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 203 {
		t.Errorf("truncate kept %d runes", len([]rune(got)))
	}
	if truncate("short", 200) != "short" {
		t.Error("short string modified")
	}
}
