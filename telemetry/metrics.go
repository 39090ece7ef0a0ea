// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	Announcements   *prometheus.CounterVec // platform, result=sent|failed
	UpstreamErrors  *prometheus.CounterVec // platform
	PersistFailures prometheus.Counter
	TokenRefreshes  *prometheus.CounterVec // platform, result=ok|error
	JobPanics       *prometheus.CounterVec // job

	// Histograms (seconds)
	SweepDuration *prometheus.HistogramVec // platform
	JobDuration   *prometheus.HistogramVec // job

	// Gauges
	CredentialState *prometheus.GaugeVec // platform; 0 valid, 1 refreshing, 2 failed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Announcements = promauto.NewCounterVec(prometheus.CounterOpts{Name: "announcer_announcements_total", Help: "Announcements attempted, by platform and delivery result"}, []string{"platform", "result"})
		UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "announcer_upstream_errors_total", Help: "Sweeps that saw at least one failed upstream batch or account"}, []string{"platform"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "announcer_persist_failures_total", Help: "Failed writes of announced item ids"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "announcer_token_refresh_total", Help: "Credential refresh attempts"}, []string{"platform", "result"})
		JobPanics = promauto.NewCounterVec(prometheus.CounterOpts{Name: "announcer_job_panics_total", Help: "Recovered panics in scheduled jobs"}, []string{"job"})
		SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "announcer_sweep_duration_seconds", Help: "Duration of one sweep across all guilds", Buckets: prometheus.DefBuckets}, []string{"platform"})
		JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "announcer_job_duration_seconds", Help: "Duration of one scheduled job run", Buckets: prometheus.DefBuckets}, []string{"job"})
		CredentialState = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "announcer_credential_state", Help: "Credential state: 0 valid, 1 refreshing, 2 failed"}, []string{"platform"})
	})
}

// RecordAnnouncement counts one delivery attempt.
func RecordAnnouncement(platform string, delivered bool) {
	if Announcements == nil {
		return
	}
	result := "sent"
	if !delivered {
		result = "failed"
	}
	Announcements.WithLabelValues(platform, result).Inc()
}

// RecordUpstreamError counts a sweep with partial upstream failures.
func RecordUpstreamError(platform string) {
	if UpstreamErrors != nil {
		UpstreamErrors.WithLabelValues(platform).Inc()
	}
}

// RecordPersistFailure counts a failed announced-id write.
func RecordPersistFailure() {
	if PersistFailures != nil {
		PersistFailures.Inc()
	}
}

// RecordTokenRefresh counts a refresh attempt.
func RecordTokenRefresh(platform string, ok bool) {
	if TokenRefreshes == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	TokenRefreshes.WithLabelValues(platform, result).Inc()
}

// SetCredentialState publishes the numeric credential state.
func SetCredentialState(platform string, state int) {
	if CredentialState != nil {
		CredentialState.WithLabelValues(platform).Set(float64(state))
	}
}

// RecordJobPanic counts a recovered panic.
func RecordJobPanic(job string) {
	if JobPanics != nil {
		JobPanics.WithLabelValues(job).Inc()
	}
}

// ObserveSweep records a sweep duration.
func ObserveSweep(platform string, d time.Duration) {
	if SweepDuration != nil {
		SweepDuration.WithLabelValues(platform).Observe(d.Seconds())
	}
}

// JobObserver returns the duration observer for job, or nil before Init.
func JobObserver(job string) prometheus.Observer {
	if JobDuration == nil {
		return nil
	}
	return JobDuration.WithLabelValues(job)
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// EnsureCorrelation returns ctx unchanged when it already carries an id,
// otherwise attaches a fresh random one.
func EnsureCorrelation(ctx context.Context) context.Context {
	if GetCorrelation(ctx) != "" {
		return ctx
	}
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
