// Package scheduler runs the announcer's periodic jobs on fixed intervals.
// Each job runs once at start, then every interval; a run that is still in
// progress when the next tick arrives causes that tick to be skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/heraldbot/announcer/telemetry"
)

// JobFunc is one run of a job. The context carries the job timeout.
type JobFunc func(ctx context.Context) error

// JobInfo is a snapshot of a job for status reporting.
type JobInfo struct {
	ID        string        `json:"id"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      int64         `json:"runs"`
	Skipped   int64         `json:"skipped"`
	Failures  int64         `json:"failures"`
	LastStart time.Time     `json:"last_start,omitempty"`
	LastTook  time.Duration `json:"last_took"`
	LastError string        `json:"last_error,omitempty"`
	NextRun   time.Time     `json:"next_run,omitempty"`
}

type job struct {
	id       string
	interval time.Duration
	timeout  time.Duration
	fn       JobFunc
	entry    cron.EntryID

	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64

	mu        sync.Mutex
	lastStart time.Time
	lastTook  time.Duration
	lastErr   error
}

// Scheduler owns a set of interval jobs.
type Scheduler struct {
	c *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	base    context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		c:    cron.New(cron.WithLogger(cronLogger{log: slog.Default().With(slog.String("component", "scheduler"))})),
		jobs: make(map[string]*job),
	}
}

// Add registers a job. timeout bounds a single run; zero means no bound beyond
// the scheduler's lifetime. Jobs must be added before Start.
func (s *Scheduler) Add(id string, interval, timeout time.Duration, fn JobFunc) error {
	if id == "" || fn == nil {
		return errors.New("job requires an id and a function")
	}
	if interval < time.Second {
		return fmt.Errorf("job %s: interval %s is below one second", id, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", id)
	}
	if _, dup := s.jobs[id]; dup {
		return fmt.Errorf("job %s already registered", id)
	}
	j := &job{id: id, interval: interval, timeout: timeout, fn: fn}
	j.entry = s.c.Schedule(cron.Every(interval), cron.FuncJob(func() { s.trigger(j) }))
	s.jobs[id] = j
	s.order = append(s.order, id)
	return nil
}

// Start begins ticking and runs every job once immediately. Runs keep ctx's
// values but not its cancellation; only Stop cancels them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	jobs := make([]*job, 0, len(s.order))
	for _, id := range s.order {
		jobs = append(jobs, s.jobs[id])
	}
	s.mu.Unlock()

	s.c.Start()
	for _, j := range jobs {
		go s.trigger(j)
	}
	slog.Info("scheduler started", slog.String("component", "scheduler"), slog.Int("jobs", len(jobs)))
}

// Stop halts ticking and waits for in-flight runs until ctx is done, after
// which their contexts are cancelled. It returns ctx.Err() when runs had to
// be abandoned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	// The wait group covers ticked runs and the initial ones.
	s.c.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		slog.Warn("scheduler stop timed out, cancelling running jobs", slog.String("component", "scheduler"))
	}
	s.cancel()
	slog.Info("scheduler stopped", slog.String("component", "scheduler"))
	return err
}

// trigger runs j unless it is already running or the scheduler is stopping.
func (s *Scheduler) trigger(j *job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	base := s.base
	s.mu.Unlock()
	defer s.wg.Done()

	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		slog.Warn("previous run still in progress, skipping tick",
			slog.String("component", "scheduler"), slog.String("job", j.id))
		return
	}
	defer j.running.Store(false)
	s.run(base, j)
}

func (s *Scheduler) run(base context.Context, j *job) {
	ctx := telemetry.EnsureCorrelation(base)
	cancel := context.CancelFunc(func() {})
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
	}
	defer cancel()

	start := time.Now()
	j.mu.Lock()
	j.lastStart = start
	j.mu.Unlock()

	var err error
	took := telemetry.TimeFunc(telemetry.JobObserver(j.id), func() { err = safeCall(ctx, j) })
	j.runs.Add(1)
	if err != nil {
		j.failures.Add(1)
	}
	j.mu.Lock()
	j.lastTook = took
	j.lastErr = err
	j.mu.Unlock()

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scheduler"), slog.String("job", j.id))
	if err != nil {
		log.Error("job failed", slog.Any("err", err), slog.Duration("took", took))
		return
	}
	log.Debug("job complete", slog.Duration("took", took))
}

func safeCall(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.RecordJobPanic(j.id)
			slog.Error("job panicked", slog.String("component", "scheduler"), slog.String("job", j.id),
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("job %s panicked: %v", j.id, r)
		}
	}()
	return j.fn(ctx)
}

// Snapshot reports every job, ordered by id.
func (s *Scheduler) Snapshot() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := JobInfo{
			ID:       j.id,
			Interval: j.interval,
			Running:  j.running.Load(),
			Runs:     j.runs.Load(),
			Skipped:  j.skipped.Load(),
			Failures: j.failures.Load(),
			NextRun:  s.c.Entry(j.entry).Next,
		}
		j.mu.Lock()
		info.LastStart = j.lastStart
		info.LastTook = j.lastTook
		if j.lastErr != nil {
			info.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{slog.Any("err", err)}, keysAndValues...)...)
}
