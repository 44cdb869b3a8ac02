// Package build turns a decoded config.Pipeline into runnable parts: the
// source options, the stage chain, the pipeline and the sink. Run wires
// them together for one execution.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"pipekit/internal/config"
	"pipekit/internal/ctxlog"
	"pipekit/internal/driver"
	"pipekit/internal/errs"
	"pipekit/internal/pipeline"
	"pipekit/internal/sink"
	"pipekit/internal/source"
)

var sourceKeys = map[string][]string{
	"csv":   {"comma", "columns", "header_map", "normalize_header", "infer", "lazy_quotes", "trim_space"},
	"json":  {"envelope"},
	"jsonl": nil,
	"lines": {"field", "keep_blank", "skip_comments", "strip_ordinal", "collapse", "case"},
	"":      {"field", "keep_blank", "skip_comments", "strip_ordinal", "collapse", "case"},
}

var httpKeys = []string{"timeout", "retries", "headers", "insecure_skip_verify"}

// Source maps the source block to source.Options.
func Source(s config.Source) (source.Options, error) {
	allowed, ok := sourceKeys[s.Format]
	if !ok {
		return source.Options{}, &errs.ConfigError{Path: "source.format", Msg: fmt.Sprintf("unknown source format %q", s.Format)}
	}
	o := s.Options
	if err := o.Check(append(append([]string(nil), allowed...), httpKeys...)...); err != nil {
		return source.Options{}, &errs.ConfigError{Path: "source.options", Err: err}
	}
	opts := source.Options{
		Format:      source.Format(s.Format),
		Path:        s.Path,
		Compression: s.Compression,
		Lines: source.LineOptions{
			Field:        o.String("field", ""),
			KeepBlank:    o.Bool("keep_blank", false),
			SkipComments: o.Bool("skip_comments", false),
			StripOrdinal: o.Bool("strip_ordinal", false),
			Collapse:     o.Bool("collapse", false),
			Case:         o.String("case", ""),
		},
		CSV: source.CSVOptions{
			Comma:           o.Rune("comma", 0),
			Columns:         o.StringSlice("columns"),
			HeaderMap:       o.StringMap("header_map"),
			NormalizeHeader: o.Bool("normalize_header", false),
			Infer:           o.Bool("infer", false),
			LazyQuotes:      o.Bool("lazy_quotes", false),
			TrimSpace:       o.Bool("trim_space", false),
		},
		JSON: source.JSONOptions{Envelope: o.String("envelope", "")},
		HTTP: source.HTTPConfig{
			Timeout:            o.Duration("timeout", 0),
			MaxRetries:         o.Int("retries", 0),
			InsecureSkipVerify: o.Bool("insecure_skip_verify", false),
		},
	}
	if hs := o.StringMap("headers"); len(hs) > 0 {
		opts.HTTP.Headers = http.Header{}
		for k, v := range hs {
			opts.HTTP.Headers.Set(k, v)
		}
	}
	return opts, nil
}

// Pipeline builds the stage chain and the pipeline around it. The hints are
// those returned by Stages.
func Pipeline(p config.Pipeline, log *slog.Logger) (*pipeline.Pipeline, map[string]string, error) {
	stages, hints, err := Stages(p, log)
	if err != nil {
		return nil, nil, err
	}
	pl, err := pipeline.New(stages, pipeline.WithWorkers(p.Runtime.Workers))
	if err != nil {
		return nil, nil, err
	}
	return pl, hints, nil
}

// Sink opens the configured sink. hints seed column types for db tables.
func Sink(ctx context.Context, s config.Sink, hints map[string]string, log *slog.Logger) (sink.Sink, error) {
	switch s.Kind {
	case "db":
		db := s.DB
		return sink.OpenDB(ctx, sink.DBOptions{
			Kind:       db.Kind,
			DSN:        db.DSN,
			Table:      db.Table,
			Columns:    db.Columns,
			KeyColumns: db.KeyColumns,
			BatchSize:  db.BatchSize,
			AutoCreate: db.AutoCreateTable,
			TypeHints:  hints,
		}, log)
	case "mongo":
		m := s.Mongo
		return sink.OpenMongo(ctx, sink.MongoOptions{
			URI:        m.URI,
			Database:   m.Database,
			Collection: m.Collection,
			BatchSize:  m.BatchSize,
			Unordered:  m.Unordered,
		}, log)
	}
	o := s.Options
	if err := o.Check("comma", "columns", "no_header", "field", "width"); err != nil {
		return nil, &errs.ConfigError{Path: "sink.options", Err: err}
	}
	return sink.Open(sink.Options{
		Format: sink.Format(s.Kind),
		Path:   s.Path,
		CSV: sink.CSVOptions{
			Comma:    o.Rune("comma", 0),
			Columns:  o.StringSlice("columns"),
			NoHeader: o.Bool("no_header", false),
		},
		Lines: sink.LineOptions{Field: o.String("field", "")},
		Table: sink.TableOptions{Width: o.Int("width", 0)},
	})
}

// Function variables used as test seams.
var (
	openSourceFn = func(ctx context.Context, opts source.Options) (driver.Source, func() error, error) {
		f, err := source.Open(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
	openSinkFn = Sink
)

// Run executes p once: it builds the pipeline, opens the source and the
// sink, drives the records through and releases everything. The report is
// non-nil whenever the run started.
func Run(ctx context.Context, p config.Pipeline) (*driver.Report, error) {
	log := ctxlog.FromContext(ctx)

	srcOpts, err := Source(p.Source)
	if err != nil {
		return nil, err
	}
	pl, hints, err := Pipeline(p, log)
	if err != nil {
		return nil, err
	}
	src, closeSrc, err := openSourceFn(ctx, srcOpts)
	if err != nil {
		_ = pl.Close()
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if cerr := closeSrc(); cerr != nil {
			log.Warn("closing source", "err", cerr)
		}
	}()
	out, err := openSinkFn(ctx, p.Sink, hints, log)
	if err != nil {
		_ = pl.Close()
		return nil, fmt.Errorf("open sink: %w", err)
	}

	rep, err := driver.Run(ctx, pl, src, out, driver.Options{Job: p.Job, MaxErrors: p.Runtime.MaxErrors})
	if cerr := out.Close(); cerr != nil {
		log.Warn("closing sink", "err", cerr)
		if err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
	}
	return rep, err
}
