package announce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heraldbot/announcer/telemetry"
)

// flushTimeout bounds the end-of-sweep write, which runs even when the sweep's
// own context has expired.
const flushTimeout = 30 * time.Second

// SweepReport summarises one sweep.
type SweepReport struct {
	Platform   Platform
	Guilds     int // guilds visited
	Skipped    int // guilds with no destination or no watched accounts
	Candidates int
	Dispatched int
	Failed     int // delivery failures; still recorded as announced
	Errors     int // guild-level read or upstream failures
	Persisted  int
	Duration   time.Duration
}

// Sweeper runs sweeps for one platform. Its Ledger outlives individual
// sweeps, so overlapping sweeps share one announced set per guild.
type Sweeper struct {
	source Source
	store  StateStore
	sink   MessageSink
	ledger *Ledger
}

// NewSweeper wires a source, store and sink together.
func NewSweeper(source Source, store StateStore, sink MessageSink) *Sweeper {
	return &Sweeper{source: source, store: store, sink: sink, ledger: NewLedger(store)}
}

// Platform returns the platform this sweeper serves.
func (s *Sweeper) Platform() Platform { return s.source.Platform() }

// Ledger exposes the sweeper's announced-set cache.
func (s *Sweeper) Ledger() *Ledger { return s.ledger }

// Sweep visits every guild once. Guild-level failures are logged and counted;
// only a failure to list guilds is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	platform := s.source.Platform()
	ctx = telemetry.EnsureCorrelation(ctx)
	ctx, span := telemetry.StartSpan(ctx, "sweep", telemetry.PlatformAttr(string(platform)))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "sweep"), slog.String("platform", string(platform)))

	report := SweepReport{Platform: platform}
	guilds, err := s.store.ListAllGuilds(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("list guilds: %w", err)
	}

	for _, guildID := range guilds {
		if ctx.Err() != nil {
			log.Warn("sweep interrupted", slog.Int("guilds_left", len(guilds)-report.Guilds), slog.Any("err", ctx.Err()))
			break
		}
		report.Guilds++
		s.sweepGuild(ctx, log.With(slog.String("guild_id", guildID)), guildID, &report)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	n, err := s.ledger.Flush(fctx)
	cancel()
	report.Persisted = n
	if err != nil {
		telemetry.RecordPersistFailure()
		telemetry.RecordError(span, err)
		log.Error("persist announced ids failed; retrying on next sweep", slog.Any("err", err), slog.Int("pending", s.ledger.Pending()))
	}

	report.Duration = time.Since(start)
	telemetry.ObserveSweep(string(platform), report.Duration)
	if err == nil {
		telemetry.SetSpanSuccess(span)
	}
	log.Info("sweep complete",
		slog.Int("guilds", report.Guilds),
		slog.Int("skipped", report.Skipped),
		slog.Int("candidates", report.Candidates),
		slog.Int("dispatched", report.Dispatched),
		slog.Int("failed", report.Failed),
		slog.Int("errors", report.Errors),
		slog.Int("persisted", report.Persisted),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func (s *Sweeper) sweepGuild(ctx context.Context, log *slog.Logger, guildID string, report *SweepReport) {
	platform := s.source.Platform()
	ctx, span := telemetry.StartSpan(ctx, "sweep.guild", telemetry.PlatformAttr(string(platform)), telemetry.GuildAttr(guildID))
	defer span.End()

	dest, err := s.store.GetDestination(ctx, guildID, platform)
	if err != nil {
		report.Errors++
		log.Warn("destination lookup failed", slog.Any("err", err))
		return
	}
	if dest == "" {
		report.Skipped++
		return
	}
	accounts, err := s.store.GetWatchedAccounts(ctx, guildID, platform)
	if err != nil {
		report.Errors++
		log.Warn("watched accounts lookup failed", slog.Any("err", err))
		return
	}
	if len(accounts) == 0 {
		report.Skipped++
		return
	}

	candidates, err := s.source.Resolve(ctx, accounts)
	if err != nil {
		report.Errors++
		telemetry.RecordUpstreamError(string(platform))
		log.Warn("partial upstream failure", slog.Any("err", err), slog.Int("resolved", len(candidates)))
	}
	report.Candidates += len(candidates)

	for _, c := range candidates {
		claimed, err := s.ledger.Claim(ctx, guildID, c.ItemID)
		if err != nil {
			// The announced set could not be read; nothing is dispatched for this guild.
			report.Errors++
			log.Warn("announced set unavailable", slog.Any("err", err))
			return
		}
		if !claimed {
			continue
		}
		a := s.source.Render(c)
		if err := s.sink.Deliver(ctx, dest, a); err != nil {
			report.Failed++
			telemetry.RecordAnnouncement(string(platform), false)
			log.Warn("announcement delivery failed",
				slog.String("item_id", c.ItemID),
				slog.String("account", c.AccountID),
				slog.String("channel_id", dest),
				slog.Any("err", err))
			continue
		}
		report.Dispatched++
		telemetry.RecordAnnouncement(string(platform), true)
		log.Info("announced", slog.String("item_id", c.ItemID), slog.String("account", c.AccountID), slog.String("channel_id", dest))
	}
}
