// Package driver runs a pipeline from a Source to a Sink and accounts for
// what happened in a Report.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"pipekit/internal/ctxlog"
	"pipekit/internal/errs"
	"pipekit/internal/metrics"
	"pipekit/internal/pipeline"
	"pipekit/internal/record"
)

// DefaultMaxErrors bounds the per-record errors retained in a Report.
const DefaultMaxErrors = 1000

// Source produces records lazily. Next returns io.EOF at the end of input.
// A *errs.ParseError describes one malformed input unit and the source
// stays usable; any other error is fatal.
type Source interface {
	Next(ctx context.Context) (record.Record, error)
}

// Sink consumes records in order. Write and Flush errors are fatal.
type Sink interface {
	Write(ctx context.Context, r record.Record) error
	Flush(ctx context.Context) error
}

// Buffered is implemented by sinks that accept records before committing
// them. Uncommitted reports how many accepted records would be lost if the
// run stopped now.
type Buffered interface {
	Uncommitted() int
}

// Options configures Run.
type Options struct {
	// Job labels logs and metrics.
	Job string
	// MaxErrors bounds Report.Errors; ErrorCount keeps counting past it.
	// Zero selects DefaultMaxErrors; negative keeps every error.
	MaxErrors int
}

// spiller is implemented by barrier stages that write to temporary storage.
type spiller interface {
	Spilled() int
}

// Run drives src through p into sink. It always returns a Report; the error
// is the fatal condition that stopped the run, if any. Per-record failures
// do not stop the run and are only reported. Run closes p.
func Run(ctx context.Context, p *pipeline.Pipeline, src Source, sink Sink, opts Options) (*Report, error) {
	if opts.MaxErrors == 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	log := ctxlog.FromContext(ctx).With("job", opts.Job)
	rep := &Report{Job: opts.Job, maxErrors: opts.MaxErrors}
	start := time.Now()

	var index int64
	next := func() (pipeline.Item, error) {
		r, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return pipeline.Item{}, io.EOF
		case isParseError(err):
			it := pipeline.Item{Index: index, Err: err}
			index++
			rep.RecordsIn++
			return it, nil
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return pipeline.Item{}, err
		default:
			return pipeline.Item{}, &errs.IOError{Op: "source", Err: err}
		}
		it := pipeline.Item{Index: index, Record: r}
		index++
		rep.RecordsIn++
		return it, nil
	}
	emit := func(r record.Record) error {
		if err := sink.Write(ctx, r); err != nil {
			return &errs.IOError{Op: "sink", Err: err}
		}
		rep.RecordsOut++
		return nil
	}

	log.Debug("run: starting", "pipeline", p.String())
	err := p.Run(ctx, next, emit, rep)
	switch {
	case err == nil:
		if ferr := sink.Flush(ctx); ferr != nil {
			err = &errs.IOError{Op: "sink", Err: ferr}
		}
	case !isSinkError(err):
		// Commit what was already emitted; the run's error stands.
		if ferr := sink.Flush(context.WithoutCancel(ctx)); ferr != nil {
			log.Warn("run: flushing sink after failure", "err", ferr)
		}
	}
	if b, ok := sink.(Buffered); ok {
		rep.RecordsOut -= int64(b.Uncommitted())
	}
	if cerr := p.Close(); cerr != nil {
		log.Warn("run: releasing stage resources", "err", cerr)
		if err == nil {
			err = cerr
		}
	}

	rep.Duration = time.Since(start)
	rep.Stages = stageReports(p)
	if err != nil {
		rep.Fatal = err.Error()
		rep.Canceled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	publish(opts.Job, rep, err)

	attrs := []any{
		"in", humanize.Comma(rep.RecordsIn),
		"out", humanize.Comma(rep.RecordsOut),
		"dropped", humanize.Comma(rep.RecordsDropped),
		"errors", humanize.Comma(rep.ErrorCount),
		"took", rep.Duration.Round(time.Millisecond),
	}
	switch {
	case rep.Canceled:
		log.Warn("run: canceled", attrs...)
	case err != nil:
		log.Error("run: aborted", append(attrs, "err", err)...)
	default:
		log.Info("run: finished", attrs...)
	}
	if err != nil {
		return rep, fmt.Errorf("run %s: %w", jobName(opts.Job), err)
	}
	return rep, nil
}

func isParseError(err error) bool {
	var pe *errs.ParseError
	return errors.As(err, &pe)
}

func jobName(job string) string {
	if job == "" {
		return "pipeline"
	}
	return job
}

func stageReports(p *pipeline.Pipeline) []StageReport {
	stats := p.Stats()
	out := make([]StageReport, len(stats))
	stages := p.Stages()
	for i, s := range stats {
		out[i] = StageReport{
			Name:    s.Name,
			Mode:    s.Mode.String(),
			In:      s.In,
			Out:     s.Out,
			Skipped: s.Skipped,
			Failed:  s.Failed,
		}
		if sp, ok := stages[i].(spiller); ok {
			out[i].SpilledChunks = sp.Spilled()
		}
	}
	return out
}

func publish(job string, rep *Report, err error) {
	metrics.RecordRun(job, err, rep.Duration)
	metrics.RecordRecords(job, "in", rep.RecordsIn)
	metrics.RecordRecords(job, "out", rep.RecordsOut)
	metrics.RecordRecords(job, "dropped", rep.RecordsDropped)
	metrics.RecordRecords(job, "failed", rep.ErrorCount)
	for _, s := range rep.Stages {
		metrics.RecordStage(job, s.Name, "ok", s.In-s.Skipped-s.Failed)
		metrics.RecordStage(job, s.Name, "skipped", s.Skipped)
		metrics.RecordStage(job, s.Name, "failed", s.Failed)
		metrics.RecordSpill(job, s.Name, s.SpilledChunks)
	}
	if ferr := metrics.Flush(); ferr != nil {
		slog.Default().Warn("metrics: flush failed", "job", job, "err", ferr)
	}
}

func isSinkError(err error) bool {
	var ioe *errs.IOError
	return errors.As(err, &ioe) && ioe.Op == "sink"
}
