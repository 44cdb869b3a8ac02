package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"pipekit/internal/build"
	"pipekit/internal/config"
	"pipekit/internal/ctxlog"
	"pipekit/internal/driver"
	"pipekit/internal/metrics"
	"pipekit/internal/metrics/datadog"
	"pipekit/internal/metrics/prompush"
	"pipekit/internal/schedule"
)

// runBuild is the test seam for executing one pipeline run.
var runBuild = build.Run

type runFlags struct {
	logFlags
	config    string
	workers   int
	spillDir  string
	sortMem   string
	maxErrors int
	cron      string
	every     time.Duration
	watch     bool
	report    string
	strict    bool

	metricsBackend string
	pushgateway    string
	datadogAddr    string
}

func cmdRun(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var f runFlags
	fs := newFlagSet("run", stderr)
	fs.StringVarP(&f.config, "config", "c", "", "pipeline file (.yaml, .yml, .json, .jsonc)")
	fs.IntVar(&f.workers, "workers", 0, "workers for the leading streaming stages (overrides "+config.EnvWorkers+")")
	fs.StringVar(&f.spillDir, "spill-dir", "", "parent directory for sort spill files (overrides "+config.EnvSpillDir+")")
	fs.StringVar(&f.sortMem, "sort-memory", "", "in-memory sort chunk size, e.g. 256MiB (overrides "+config.EnvSortMemory+")")
	fs.IntVar(&f.maxErrors, "max-errors", 0, "record errors kept in the report; negative keeps all")
	fs.StringVar(&f.cron, "schedule", "", "re-run on a cron schedule, e.g. \"*/5 * * * *\" or \"@hourly\"")
	fs.DurationVar(&f.every, "every", 0, "re-run at a fixed interval")
	fs.BoolVar(&f.watch, "watch", false, "re-run when the source file changes")
	fs.StringVar(&f.report, "report", "text", "run report on stderr: text, json or none")
	fs.BoolVar(&f.strict, "strict", false, "exit 2 when any record failed")
	fs.StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend: prompush, datadog or none (default from the pipeline file)")
	fs.StringVar(&f.pushgateway, "pushgateway-url", "", "Pushgateway base URL for prompush")
	fs.StringVar(&f.datadogAddr, "datadog-addr", "", "DogStatsD address for datadog")
	f.register(fs)
	if code, ok := parse(fs, args); !ok {
		return code
	}
	log := f.logger(stderr)
	ctx = ctxlog.WithLogger(ctx, log)

	if f.config == "" {
		fmt.Fprintln(stderr, "pipekit run: --config is required")
		return exitFailed
	}
	switch f.report {
	case "text", "json", "none":
	default:
		fmt.Fprintf(stderr, "pipekit run: unknown --report %q\n", f.report)
		return exitFailed
	}

	p, err := loadPipeline(f.config)
	if err != nil {
		fmt.Fprintf(stderr, "pipekit run: %v\n", err)
		return exitFailed
	}
	f.apply(fs.Changed, p)
	if printIssues(stderr, config.ValidatePipeline(*p)) {
		return exitFailed
	}

	restore, err := installMetrics(p.Job, p.Metrics, log)
	if err != nil {
		fmt.Fprintf(stderr, "pipekit run: %v\n", err)
		return exitFailed
	}
	defer restore()

	r := &reporter{format: f.report, w: stderr, styled: isTerminal(stderr)}
	job := func(ctx context.Context) error {
		rep, err := runBuild(ctx, *p)
		r.add(rep, err)
		return err
	}

	if s := p.Schedule; s.Cron != "" || s.Every > 0 || s.Watch {
		if err := runScheduled(ctx, s, p.Source.Path, job); err != nil {
			fmt.Fprintf(stderr, "pipekit run: %v\n", err)
			return exitFailed
		}
		log.Info("schedule: stopped", "runs", r.runs)
		return exitOK
	}

	_ = job(ctx)
	return r.exitCode(f.strict)
}

// loadPipeline reads the file and applies environment overrides.
func loadPipeline(path string) (*config.Pipeline, error) {
	p, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := p.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	return p, nil
}

// apply copies explicitly given flags over the file and environment values.
func (f *runFlags) apply(changed func(string) bool, p *config.Pipeline) {
	if changed("workers") {
		p.Runtime.Workers = f.workers
	}
	if changed("spill-dir") {
		p.Runtime.SpillDir = f.spillDir
	}
	if changed("sort-memory") {
		p.Runtime.SortMemory = f.sortMem
	}
	if changed("max-errors") {
		p.Runtime.MaxErrors = f.maxErrors
	}
	if changed("schedule") {
		p.Schedule.Cron = f.cron
	}
	if changed("every") {
		p.Schedule.Every = config.Duration(f.every)
	}
	if changed("watch") {
		p.Schedule.Watch = f.watch
	}
	if changed("metrics-backend") {
		p.Metrics.Backend = f.metricsBackend
		if p.Metrics.Backend == "none" {
			p.Metrics.Backend = ""
		}
	}
	if changed("pushgateway-url") {
		p.Metrics.PushgatewayURL = f.pushgateway
	}
	if changed("datadog-addr") {
		p.Metrics.DatadogAddr = f.datadogAddr
	}
}

// printIssues writes validation findings and reports whether any is an
// error.
func printIssues(w io.Writer, issues []config.Issue) bool {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return config.HasErrors(issues)
}

// installMetrics sets the global metrics backend. The returned func flushes
// and restores the default backend.
func installMetrics(job string, m config.Metrics, log *slog.Logger) (func(), error) {
	var closeFn func() error
	switch m.Backend {
	case "", "none":
		log.Debug("metrics: disabled")
		return func() {}, nil
	case "prompush":
		b, err := prompush.NewBackend(job, m.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		log.Debug("metrics: backend installed", "backend", m.Backend, "url", m.PushgatewayURL)
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{Addr: m.DatadogAddr, GlobalTags: m.Tags})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		closeFn = b.Close
		log.Debug("metrics: backend installed", "backend", m.Backend, "addr", m.DatadogAddr)
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", m.Backend)
	}
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush", "err", err)
		}
		if closeFn != nil {
			if err := closeFn(); err != nil {
				log.Warn("metrics: close", "err", err)
			}
		}
		metrics.SetBackend(metrics.Nop())
	}, nil
}

// runScheduled starts every configured trigger and blocks until ctx is
// done. Triggers share one lock, so a run is never overlapped.
func runScheduled(ctx context.Context, s config.Schedule, sourcePath string, job schedule.Job) error {
	var mu sync.Mutex
	log := ctxlog.FromContext(ctx)
	exclusive := func(ctx context.Context) error {
		if !mu.TryLock() {
			log.Warn("schedule: previous run still in progress, skipping")
			return nil
		}
		defer mu.Unlock()
		return job(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.Cron != "" {
		g.Go(func() error { return schedule.Cron(gctx, s.Cron, exclusive) })
	}
	if s.Every > 0 {
		g.Go(func() error { return schedule.Every(gctx, time.Duration(s.Every), exclusive) })
	}
	if s.Watch {
		g.Go(func() error {
			return schedule.Watch(gctx, []string{sourcePath}, schedule.DefaultDebounce, exclusive)
		})
	}
	return g.Wait()
}

// reporter prints run reports and remembers the last outcome.
type reporter struct {
	format string
	w      io.Writer
	styled bool

	mu   sync.Mutex
	runs int
	last *driver.Report
	err  error
}

func (r *reporter) add(rep *driver.Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	r.last, r.err = rep, err
	if rep == nil {
		// The run never started; the error says why.
		if err != nil {
			fmt.Fprintf(r.w, "pipekit: %v\n", err)
		}
		return
	}
	switch r.format {
	case "json":
		_ = rep.WriteJSON(r.w)
	case "text":
		_ = rep.WriteText(r.w, r.styled)
	}
}

func (r *reporter) exitCode(strict bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.err != nil:
		return exitFailed
	case r.last == nil:
		return exitFailed
	case strict && r.last.ErrorCount > 0:
		return exitRecordErrors
	}
	return exitOK
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
