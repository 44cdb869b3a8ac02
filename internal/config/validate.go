package config

import (
	"fmt"
	"slices"
	"strings"

	"pipekit/internal/expr"
	"pipekit/internal/schedule"
	"pipekit/internal/sorter"
	"pipekit/internal/spill"
	"pipekit/internal/stage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "sink.db.table",
// "stages[1].keys[0]"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Path     string        `json:"path"`
	Message  string        `json:"message"`
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	return slices.ContainsFunc(issues, func(i Issue) bool { return i.Severity == SeverityError })
}

var (
	// SourceFormats are the accepted source.format values.
	SourceFormats = []string{"lines", "csv", "jsonl", "json"}
	// SinkKinds are the accepted sink.kind values.
	SinkKinds = []string{"jsonl", "csv", "lines", "table", "db", "mongo"}
	// StorageKinds are the built-in db sink backends.
	StorageKinds = []string{"postgres", "mssql", "mysql", "sqlite"}
	// StageKinds are the built-in stage kinds.
	StageKinds = []string{"filter", "map", "flatten", "coerce", "require", "normalize", "dedupe", "aggregate", "sort"}
)

// ValidatePipeline performs static validation of a Pipeline: required
// fields, known kinds, and stage settings that can be checked without data
// (predicates compile, sort keys parse, aggregations parse).
//
// It does not mutate the pipeline. Callers may decide whether to treat
// warnings as fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var v validator
	if strings.TrimSpace(p.Job) == "" {
		v.errorf("job", "job must not be empty; it is used for metrics labeling and identifying runs")
	}
	v.source(p.Source)
	v.stages(p.Stages)
	v.sink(p.Sink)
	v.runtime(p.Runtime)
	v.metrics(p.Metrics)
	v.schedule(p.Schedule, p.Source)
	return v.issues
}

type validator struct {
	issues []Issue
}

func (v *validator) errorf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warnf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) source(s Source) {
	if strings.TrimSpace(s.Path) == "" {
		v.errorf("source.path", "source.path must not be empty; use \"-\" for stdin")
	}
	if s.Format != "" && !slices.Contains(SourceFormats, s.Format) {
		v.errorf("source.format", "unknown source format %q; want one of %s", s.Format, strings.Join(SourceFormats, ", "))
	}
	switch s.Compression {
	case "", "none", "gzip", "gz", "zstd", "zst", "lz4":
	default:
		v.errorf("source.compression", "unknown compression %q", s.Compression)
	}
	if s.Format == "csv" {
		if c := s.Options.String("comma", ""); len([]rune(c)) > 1 {
			v.errorf("source.options.comma", "comma must be a single character, got %q", c)
		}
	}
	if s.Format == "lines" {
		switch s.Options.String("case", "") {
		case "", "lower", "upper", "fold":
		default:
			v.errorf("source.options.case", "case must be lower, upper or fold")
		}
	}
}

func (v *validator) stages(stages []Stage) {
	names := map[string]int{}
	for i, st := range stages {
		base := fmt.Sprintf("stages[%d]", i)
		kind := strings.TrimSpace(st.Kind)
		if kind == "" {
			v.errorf(base+".kind", "stage kind must not be empty")
			continue
		}
		if !slices.Contains(StageKinds, kind) {
			v.errorf(base+".kind", "unknown stage kind %q; want one of %s", kind, strings.Join(StageKinds, ", "))
			continue
		}
		name := st.Name
		if name == "" {
			name = kind
		}
		if j, dup := names[name]; dup && st.Name != "" {
			v.warnf(base+".name", "stage name %q is also used by stages[%d]; report lines will be ambiguous", name, j)
		}
		names[name] = i

		switch kind {
		case "filter":
			if strings.TrimSpace(st.Predicate) == "" {
				v.errorf(base+".predicate", "filter requires a predicate")
			} else if _, err := expr.Compile(st.Predicate); err != nil {
				v.errorf(base+".predicate", "%v", err)
			}
		case "map":
			set := st.Options.StringSlice("set")
			for j, a := range set {
				if _, err := stage.ParseAssignment(a); err != nil {
					v.errorf(fmt.Sprintf("%s.options.set[%d]", base, j), "%v", err)
				}
			}
			if len(set) == 0 && len(st.Options.StringSlice("drop")) == 0 && len(st.Options.StringMap("rename")) == 0 {
				v.warnf(base+".options", "map has no set, rename or drop; it copies records unchanged")
			}
		case "flatten":
			if st.Options.String("field", "") == "" {
				v.errorf(base+".options.field", "flatten requires a list field")
			}
		case "coerce":
			if len(st.Options.StringMap("types")) == 0 {
				v.errorf(base+".options.types", "coerce requires a field -> type map")
			}
		case "require":
			if len(st.Options.StringSlice("fields")) == 0 && len(st.Keys) == 0 {
				v.errorf(base+".options.fields", "require needs at least one field")
			}
		case "dedupe":
			if len(st.Keys) == 0 {
				v.errorf(base+".keys", "dedupe requires key fields")
			}
			switch st.Options.String("policy", "") {
			case "", stage.KeepFirst, stage.KeepLast, stage.MostComplete:
			default:
				v.errorf(base+".options.policy", "policy must be %s, %s or %s", stage.KeepFirst, stage.KeepLast, stage.MostComplete)
			}
		case "aggregate":
			aggs := st.Options.StringSlice("aggregations")
			if len(aggs) == 0 {
				v.errorf(base+".options.aggregations", "aggregate requires at least one aggregation such as \"count\" or \"sum(amount) as total\"")
			}
			for j, a := range aggs {
				if _, err := stage.ParseAggregation(a); err != nil {
					v.errorf(fmt.Sprintf("%s.options.aggregations[%d]", base, j), "%v", err)
				}
			}
		case "sort":
			if len(st.Keys) == 0 {
				v.errorf(base+".keys", "sort requires at least one key")
			}
			seen := map[string]bool{}
			for j, k := range st.Keys {
				key, err := sorter.ParseKey(k)
				if err != nil {
					v.errorf(fmt.Sprintf("%s.keys[%d]", base, j), "%v", err)
					continue
				}
				if seen[key.Field] {
					v.errorf(fmt.Sprintf("%s.keys[%d]", base, j), "field %q appears in more than one key", key.Field)
				}
				seen[key.Field] = true
			}
		}
	}
}

func (v *validator) sink(s Sink) {
	kind := strings.TrimSpace(s.Kind)
	if kind == "" {
		v.errorf("sink.kind", "sink.kind must not be empty")
		return
	}
	if !slices.Contains(SinkKinds, kind) {
		v.errorf("sink.kind", "unknown sink kind %q; want one of %s", kind, strings.Join(SinkKinds, ", "))
		return
	}
	switch kind {
	case "db":
		db := s.DB
		if !slices.Contains(StorageKinds, db.Kind) {
			v.errorf("sink.db.kind", "unknown storage kind %q; want one of %s", db.Kind, strings.Join(StorageKinds, ", "))
		}
		if strings.TrimSpace(db.DSN) == "" {
			v.errorf("sink.db.dsn", "sink.db.dsn must not be empty")
		}
		if strings.TrimSpace(db.Table) == "" {
			v.errorf("sink.db.table", "sink.db.table must not be empty")
		}
		if len(db.Columns) == 0 {
			v.warnf("sink.db.columns", "no columns configured; they will be taken from the first records")
		}
		if db.BatchSize < 0 {
			v.errorf("sink.db.batch_size", "batch_size must not be negative")
		}
		for i, k := range db.KeyColumns {
			if len(db.Columns) > 0 && !slices.Contains(db.Columns, k) {
				v.errorf(fmt.Sprintf("sink.db.key_columns[%d]", i), "key column %q is not in columns", k)
			}
		}
		if len(db.KeyColumns) > 0 && !db.AutoCreateTable {
			v.warnf("sink.db.key_columns", "key_columns only take effect when auto_create_table is true")
		}
	case "mongo":
		m := s.Mongo
		if m.URI == "" {
			v.errorf("sink.mongo.uri", "sink.mongo.uri must not be empty")
		}
		if m.Database == "" || m.Collection == "" {
			v.errorf("sink.mongo", "database and collection are required")
		}
	case "table":
		if s.Path != "" && s.Path != "-" {
			v.warnf("sink.path", "table output is meant for terminals")
		}
	}
}

func (v *validator) runtime(r RuntimeConfig) {
	if r.Workers < 0 {
		v.errorf("runtime.workers", "workers must not be negative")
	}
	if r.SpillWorkers < 0 {
		v.errorf("runtime.spill_workers", "spill_workers must not be negative")
	}
	if _, err := r.SortMemoryBytes(); err != nil {
		v.errorf("runtime.sort_memory", "%v", err)
	}
	if _, err := r.MinFreeBytes(); err != nil {
		v.errorf("runtime.min_free_space", "%v", err)
	}
	if r.SpillCodec != "" {
		if _, err := spill.ParseCodec(r.SpillCodec); err != nil {
			v.errorf("runtime.spill_codec", "%v", err)
		}
	}
}

func (v *validator) metrics(m Metrics) {
	switch m.Backend {
	case "":
	case "prompush":
		if m.PushgatewayURL == "" {
			v.errorf("metrics.pushgateway_url", "prompush requires pushgateway_url")
		}
	case "datadog":
		if m.DatadogAddr == "" {
			v.errorf("metrics.datadog_addr", "datadog requires datadog_addr")
		}
	default:
		v.errorf("metrics.backend", "unknown metrics backend %q; want prompush or datadog", m.Backend)
	}
}

func (v *validator) schedule(s Schedule, src Source) {
	if s.Cron != "" && s.Every != 0 {
		v.errorf("schedule", "cron and every are mutually exclusive")
	}
	if s.Cron != "" {
		if _, err := schedule.ParseCron(s.Cron); err != nil {
			v.errorf("schedule.cron", "%v", err)
		}
	}
	if s.Every < 0 {
		v.errorf("schedule.every", "every must be positive")
	}
	if s.Watch && (src.Path == "-" || strings.Contains(src.Path, "://")) {
		v.errorf("schedule.watch", "watch needs a local source file")
	}
}
