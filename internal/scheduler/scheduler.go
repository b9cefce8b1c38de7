// Package scheduler runs the periodic maintenance jobs of the server.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is one run of a job. It returns how many rows it touched.
type JobFunc func(ctx context.Context) (int64, error)

// Scheduler runs named jobs on cron schedules. A run that is still going when its next tick
// arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// New returns a stopped scheduler. Each run is bounded by timeout when it is positive.
func New(timeout time.Duration) *Scheduler {
	logger := slogLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		timeout: timeout,
	}
}

// Register adds a job. An empty schedule disables it.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	if spec == "" {
		slog.Info("scheduled job disabled", "job", name)
		return nil
	}
	if _, err := s.cron.AddFunc(spec, s.wrap(name, fn)); err != nil {
		return fmt.Errorf("failed to schedule job %s with %q: %w", name, spec, err)
	}
	slog.Info("scheduled job registered", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) wrap(name string, fn JobFunc) func() {
	return func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		start := time.Now()
		n, err := fn(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "scheduled job failed", "job", name, "error", err)
			return
		}
		slog.DebugContext(ctx, "scheduled job finished", "job", name, "count", n, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("scheduled jobs still running at shutdown")
	}
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
