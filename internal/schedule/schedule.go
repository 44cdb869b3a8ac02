// Package schedule re-runs a job on a cron expression, a fixed interval or
// changes to watched files. A tick that arrives while the previous run is
// still in progress is skipped, never queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pipekit/internal/ctxlog"
)

// Job is one scheduled unit of work. Its error is logged; the schedule
// keeps going.
type Job func(ctx context.Context) error

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron accepts five-field expressions, six-field expressions with a
// leading seconds field, and descriptors such as "@hourly" or "@every 5m".
func ParseCron(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", spec, err)
	}
	return s, nil
}

// runner executes a Job at most once at a time.
type runner struct {
	job     Job
	log     *slog.Logger
	busy    atomic.Bool
	wg      sync.WaitGroup
	runs    atomic.Int64
	skipped atomic.Int64
}

func newRunner(ctx context.Context, job Job) *runner {
	return &runner{job: job, log: ctxlog.FromContext(ctx)}
}

// fire starts the job in the background unless a run is in progress.
func (r *runner) fire(ctx context.Context, trigger string) {
	if !r.busy.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		r.log.Warn("schedule: previous run still in progress, skipping", "trigger", trigger)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.busy.Store(false)
		r.run(ctx, trigger)
	}()
}

func (r *runner) run(ctx context.Context, trigger string) {
	n := r.runs.Add(1)
	start := time.Now()
	r.log.Info("schedule: run started", "run", n, "trigger", trigger)
	if err := r.job(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("schedule: run failed", "run", n, "err", err, "elapsed", time.Since(start).Truncate(time.Millisecond))
		return
	}
	r.log.Info("schedule: run finished", "run", n, "elapsed", time.Since(start).Truncate(time.Millisecond))
}

// wait blocks until the in-flight run, if any, returns.
func (r *runner) wait() { r.wg.Wait() }

// Cron runs job on every activation of spec until ctx is done, then waits
// for the in-flight run.
func Cron(ctx context.Context, spec string, job Job) error {
	sched, err := ParseCron(spec)
	if err != nil {
		return err
	}
	r := newRunner(ctx, job)
	c := cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{r.log}))
	c.Schedule(sched, cron.FuncJob(func() { r.fire(ctx, "cron") }))
	c.Start()
	r.log.Info("schedule: cron started", "spec", spec, "next", sched.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	<-c.Stop().Done()
	r.wait()
	return nil
}

// Every runs job immediately and then every d until ctx is done.
func Every(ctx context.Context, d time.Duration, job Job) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %s", d)
	}
	r := newRunner(ctx, job)
	t := time.NewTicker(d)
	defer t.Stop()

	r.fire(ctx, "start")
	for {
		select {
		case <-ctx.Done():
			r.wait()
			return nil
		case <-t.C:
			r.fire(ctx, "interval")
		}
	}
}

// cronLogger routes robfig/cron's internal logging to slog at debug level.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("schedule: cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("schedule: cron "+msg, append(keysAndValues, "err", err)...)
}
