// Command announcer is the announcement daemon. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to the database and brings the schema up to date.
//   - Seeds and refreshes Twitch credentials.
//   - Schedules the stream sweep, the video sweep (when a YouTube key is
//     configured) and the token refresh, each run once at start.
//   - Exposes /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"github.com/heraldbot/announcer/config"
	"github.com/heraldbot/announcer/crypto"
	"github.com/heraldbot/announcer/db"
	"github.com/heraldbot/announcer/discord"
	"github.com/heraldbot/announcer/server"
	"github.com/heraldbot/announcer/telemetry"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds how long in-flight jobs may run on after a signal
// before the scheduler cancels them.
const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("announcer", version, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.EncryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set, credentials are stored in plaintext")
	}

	database, err := db.Connect(cfg.DBDriver, cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("running database migrations", slog.String("component", "db_migrate"), slog.String("driver", cfg.DBDriver))
	if err := db.Prepare(ctx, database, cfg.DBDriver); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	store := db.NewStore(database, cfg.DBDriver, sealer)

	sink, err := discord.NewSink(cfg.DiscordToken, cfg.HTTPTimeout)
	if err != nil {
		slog.Error("discord sink setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	a, err := newApp(ctx, cfg, store, sink)
	if err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		handler := server.NewMux(ctx, server.Deps{
			DB:          database,
			Jobs:        a.sched,
			Credentials: []server.CredentialReporter{a.twitchCreds},
			Version:     version,
			StatusToken: cfg.StatusToken,
		})
		if err := server.Start(ctx, cfg.HTTPAddr, handler, nil); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	a.sched.Start(ctx)
	notify(daemon.SdNotifyReady)
	slog.Info("announcer started", slog.String("version", version), slog.Int("jobs", len(a.sched.Snapshot())))

	<-ctx.Done()
	slog.Info("shutting down")
	notify(daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.sched.Stop(stopCtx); err != nil {
		slog.Warn("jobs still running at shutdown were cancelled", slog.Any("err", err))
	}
}

// setupLogging configures level (LOG_LEVEL) and format (LOG_FORMAT). Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if unknown {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// notify sends a systemd readiness state; it is a no-op outside systemd.
func notify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		slog.Warn("sd_notify failed", slog.String("state", state), slog.Any("err", err))
	} else if ok {
		slog.Debug("sd_notify sent", slog.String("state", state))
	}
}
