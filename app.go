package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/config"
	"github.com/heraldbot/announcer/db"
	"github.com/heraldbot/announcer/oauth"
	"github.com/heraldbot/announcer/platform"
	"github.com/heraldbot/announcer/scheduler"
	"github.com/heraldbot/announcer/twitchapi"
	"github.com/heraldbot/announcer/youtubeapi"
)

const (
	jobStreamSweep  = "stream_sweep"
	jobVideoSweep   = "video_sweep"
	jobTokenRefresh = "token_refresh"
)

// app is the wired daemon: one sweeper per platform, the Twitch credential
// manager feeding the Helix client, and the scheduler that drives them.
type app struct {
	cfg         *config.Config
	store       *db.Store
	helix       *twitchapi.HelixClient
	twitchCreds *oauth.CredentialManager
	streams     *announce.Sweeper
	videos      *announce.Sweeper // nil without a YouTube API key
	sched       *scheduler.Scheduler
}

// newApp wires every component around store and sink and registers the jobs.
func newApp(ctx context.Context, cfg *config.Config, store *db.Store, sink announce.MessageSink) (*app, error) {
	a := &app{cfg: cfg, store: store, sched: scheduler.New()}

	if cfg.TwitchSeedReady() {
		if _, err := store.SeedCredentials(ctx, oauth.Credentials{
			Platform:     string(announce.PlatformTwitch),
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			AccessToken:  cfg.TwitchAccessToken,
			RefreshToken: cfg.TwitchRefreshToken,
		}); err != nil {
			return nil, fmt.Errorf("seed twitch credentials: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	a.helix = twitchapi.NewHelixClient("", "", httpClient)
	a.helix.APIBaseURL = cfg.TwitchAPIBaseURL
	a.twitchCreds = oauth.NewCredentialManager(string(announce.PlatformTwitch), store, a.refreshTwitch, cfg.HTTPTimeout)
	a.twitchCreds.OnRefresh(func(_ context.Context, c oauth.Credentials) {
		a.applyTwitchCredentials(c)
	})
	if _, err := a.loadTwitchCredentials(ctx); err != nil {
		// The stream job retries the load on every run.
		slog.Error("twitch credential load failed", slog.Any("err", err))
	}

	twitchSrc := platform.NewTwitchSource(a.helix, perMinute(cfg.TwitchRatePerMinute))
	a.streams = announce.NewSweeper(twitchSrc, store, sink)

	if cfg.YouTubeAPIKey != "" {
		yt, err := youtubeapi.NewWithAPIKey(ctx, cfg.YouTubeAPIKey, cfg.HTTPTimeout, cfg.YouTubeAPIEndpoint)
		if err != nil {
			return nil, err
		}
		ytSrc := platform.NewYouTubeSource(yt, platform.YouTubeOptions{
			Recent:    cfg.VideoRecentUploads,
			Freshness: cfg.VideoFreshnessWindow,
			Limiter:   perMinute(cfg.YouTubeRatePerMinute),
		})
		a.videos = announce.NewSweeper(ytSrc, store, sink)
	} else {
		slog.Info("YOUTUBE_API_KEY not set, video announcements disabled")
	}

	if err := a.sched.Add(jobStreamSweep, cfg.StreamPollInterval, cfg.JobTimeout, a.sweepStreams); err != nil {
		return nil, err
	}
	if a.videos != nil {
		if err := a.sched.Add(jobVideoSweep, cfg.VideoPollInterval, cfg.JobTimeout, a.sweepVideos); err != nil {
			return nil, err
		}
	}
	if err := a.sched.Add(jobTokenRefresh, cfg.TokenRefreshInterval, cfg.JobTimeout, a.refreshTokens); err != nil {
		return nil, err
	}
	return a, nil
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	burst := n / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), burst)
}

func (a *app) applyTwitchCredentials(c oauth.Credentials) {
	a.helix.SetClientID(c.ClientID)
	a.helix.SetAccessToken(c.AccessToken)
}

// loadTwitchCredentials pulls the stored record into the manager and the Helix client.
func (a *app) loadTwitchCredentials(ctx context.Context) (bool, error) {
	loaded, err := a.twitchCreds.Load(ctx)
	if err != nil || !loaded {
		return loaded, err
	}
	c, _ := a.twitchCreds.Current()
	a.applyTwitchCredentials(c)
	return true, nil
}

func (a *app) refreshTwitch(ctx context.Context, c oauth.Credentials) (string, string, error) {
	auth := &twitchapi.Authenticator{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     a.cfg.TwitchTokenURL,
		HTTPClient:   &http.Client{Timeout: a.cfg.HTTPTimeout},
	}
	res, err := auth.Refresh(ctx, c.RefreshToken)
	if err != nil {
		return "", "", err
	}
	return res.AccessToken, res.RefreshToken, nil
}

func (a *app) sweepStreams(ctx context.Context) error {
	if !a.helix.Ready() {
		loaded, err := a.loadTwitchCredentials(ctx)
		if err != nil {
			return err
		}
		if !loaded {
			slog.Info("twitch credentials not configured, skipping stream sweep", slog.String("component", "sweep"))
			return nil
		}
	}
	_, err := a.streams.Sweep(ctx)
	return err
}

func (a *app) sweepVideos(ctx context.Context) error {
	_, err := a.videos.Sweep(ctx)
	return err
}

// refreshTokens never fails the job; the outcome is visible in the credential state.
func (a *app) refreshTokens(ctx context.Context) error {
	a.twitchCreds.Refresh(ctx)
	return nil
}
