// Package scheduler runs the pipeline on a cron schedule in serve mode.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobRunning is returned by RunNow while a run is in progress.
var ErrJobRunning = errors.New("scheduled job already running")

// Job is the work triggered on each tick.
type Job func(ctx context.Context) error

// Scheduler triggers one job on a cron schedule. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	spec    string
	loc     *time.Location
	job     Job
	logger  *slog.Logger
	running atomic.Bool

	mu   sync.Mutex
	base context.Context
}

// New parses spec (five fields, optional leading seconds field, or a
// descriptor such as @hourly) in timezone and prepares job.
func New(spec, timezone string, job Job, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		spec:   spec,
		loc:    loc,
		job:    job,
		logger: logger,
		base:   context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{logger})),
	)

	s.entry, err = s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is cancelled, then waits for an active
// run to return. Runs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info("starting scheduler", "schedule", s.spec, "timezone", s.loc.String())
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("scheduler stopping due to context cancellation")
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow runs the job immediately unless a run is already active.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.run(ctx)
}

// Next returns the next scheduled trigger, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()

	if err := s.run(ctx); errors.Is(err, ErrJobRunning) {
		s.logger.Warn("previous run still active, skipping tick")
	}
}

func (s *Scheduler) run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	defer s.running.Store(false)

	start := time.Now()
	s.logger.Info("scheduled run started")
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Info("scheduled run completed", "duration", time.Since(start))
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
