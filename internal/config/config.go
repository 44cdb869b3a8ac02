// Package config defines the pipeline file model. Pipelines are written in
// YAML or in JSON with comments, decoded into the types below and passed
// through the program without additional glue code.
//
// Example (trimmed):
//
//	job: vehicles
//	source: { format: csv, path: data/vehicles.csv.gz, options: { infer: true } }
//	stages:
//	  - kind: filter
//	    predicate: 'record.year >= 2010'
//	  - kind: sort
//	    keys: ["make", "year:desc"]
//	sink: { kind: db, db: { kind: sqlite, dsn: out.db, table: vehicles, auto_create_table: true } }
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run in logs, metrics and reports.
	Job string `json:"job" yaml:"job"`

	Source Source `json:"source" yaml:"source"`

	// Stages run in order. An empty list copies source records to the sink.
	Stages []Stage `json:"stages" yaml:"stages"`

	Sink     Sink          `json:"sink" yaml:"sink"`
	Runtime  RuntimeConfig `json:"runtime" yaml:"runtime"`
	Metrics  Metrics       `json:"metrics" yaml:"metrics"`
	Schedule Schedule      `json:"schedule" yaml:"schedule"`
}

// Source selects the input file and how it is decoded.
type Source struct {
	// Format is "lines", "csv", "jsonl" or "json".
	Format string `json:"format" yaml:"format"`

	// Path is a file path, an http(s) URL, or "-" for stdin.
	Path string `json:"path" yaml:"path"`

	// Compression overrides detection by extension: gzip, zstd, lz4, none.
	Compression string `json:"compression" yaml:"compression"`

	// Options is interpreted by the selected format. Typical keys:
	//   csv:   comma, columns, header_map, normalize_header, infer,
	//          lazy_quotes, trim_space
	//   json:  envelope
	//   lines: field, keep_blank, skip_comments, strip_ordinal, collapse, case
	//   http:  timeout, retries, headers, insecure_skip_verify
	Options Options `json:"options" yaml:"options"`
}

// Stage is one step of the stage chain.
type Stage struct {
	// Kind selects the implementation: filter, map, flatten, coerce,
	// require, normalize, dedupe, aggregate, sort.
	Kind string `json:"kind" yaml:"kind"`

	// Name labels the stage in reports; it defaults to Kind.
	Name string `json:"name" yaml:"name"`

	// Keys are sort keys ("field[:asc|desc][:nulls-first|nulls-last]"),
	// dedupe key fields or aggregate group-by fields.
	Keys []string `json:"keys" yaml:"keys"`

	// Predicate is the filter expression.
	Predicate string `json:"predicate" yaml:"predicate"`

	// Fatal turns a failed record into a failed run.
	Fatal bool `json:"fatal" yaml:"fatal"`

	// Options is interpreted by the stage implementation.
	Options Options `json:"options" yaml:"options"`
}

// Sink selects where records are written.
type Sink struct {
	// Kind is jsonl, csv, lines, table, db or mongo.
	Kind string `json:"kind" yaml:"kind"`

	// Path is the output file for text kinds; "-" or empty is stdout.
	Path string `json:"path" yaml:"path"`

	DB    DBConfig    `json:"db" yaml:"db"`
	Mongo MongoConfig `json:"mongo" yaml:"mongo"`

	// Options for text kinds: comma, columns, no_header (csv), field
	// (lines), width (table).
	Options Options `json:"options" yaml:"options"`
}

// DBConfig configures the db sink.
type DBConfig struct {
	// Kind is the storage backend: postgres, mssql, mysql, sqlite.
	Kind string `json:"kind" yaml:"kind"`

	// DSN is the backend connection string.
	DSN string `json:"dsn" yaml:"dsn"`

	// Table is the target table, optionally schema-qualified.
	Table string `json:"table" yaml:"table"`

	// Columns enumerates the destination columns in load order. When empty
	// they are taken from the first records written.
	Columns []string `json:"columns" yaml:"columns"`

	// KeyColumns become the primary key of an auto-created table.
	KeyColumns []string `json:"key_columns" yaml:"key_columns"`

	// AutoCreateTable issues a dialect CREATE TABLE IF NOT EXISTS before
	// loading.
	AutoCreateTable bool `json:"auto_create_table" yaml:"auto_create_table"`

	// BatchSize is the number of rows per bulk insert.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// MongoConfig configures the mongo sink.
type MongoConfig struct {
	URI        string `json:"uri" yaml:"uri"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
	BatchSize  int    `json:"batch_size" yaml:"batch_size"`
	Unordered  bool   `json:"unordered" yaml:"unordered"`
}

// RuntimeConfig controls concurrency, sort memory and error retention.
type RuntimeConfig struct {
	// Workers runs the leading streaming stages on this many goroutines.
	Workers int `json:"workers" yaml:"workers"`

	// SortMemoryRecords and SortMemory ("64MiB") bound each sort stage's
	// in-memory chunk before it spills.
	SortMemoryRecords int    `json:"sort_memory_records" yaml:"sort_memory_records"`
	SortMemory        string `json:"sort_memory" yaml:"sort_memory"`

	// SpillDir is the parent of per-run spill directories.
	SpillDir string `json:"spill_dir" yaml:"spill_dir"`

	// SpillCodec is zstd, lz4 or none.
	SpillCodec string `json:"spill_codec" yaml:"spill_codec"`

	// SpillWorkers bounds concurrent chunk writers per sort stage.
	SpillWorkers int `json:"spill_workers" yaml:"spill_workers"`

	// MinFreeSpace ("1GB") refuses to spill onto a fuller filesystem.
	MinFreeSpace string `json:"min_free_space" yaml:"min_free_space"`

	// MaxErrors caps the per-record errors kept in the report; negative
	// keeps all of them.
	MaxErrors int `json:"max_errors" yaml:"max_errors"`
}

// SortMemoryBytes parses SortMemory; zero when unset.
func (r RuntimeConfig) SortMemoryBytes() (int64, error) {
	return parseBytes("runtime.sort_memory", r.SortMemory)
}

// MinFreeBytes parses MinFreeSpace; zero when unset.
func (r RuntimeConfig) MinFreeBytes() (uint64, error) {
	n, err := parseBytes("runtime.min_free_space", r.MinFreeSpace)
	return uint64(n), err
}

func parseBytes(path, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%s: %q is too large", path, s)
	}
	return int64(n), nil
}

// Metrics selects a metrics backend. An empty Backend disables metrics.
type Metrics struct {
	// Backend is "", "prompush" or "datadog".
	Backend string `json:"backend" yaml:"backend"`

	// PushgatewayURL is required for prompush.
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`

	// DatadogAddr is the DogStatsD address for datadog.
	DatadogAddr string `json:"datadog_addr" yaml:"datadog_addr"`

	// Tags are extra "key:value" tags for datadog.
	Tags []string `json:"tags" yaml:"tags"`
}

// Schedule re-runs the pipeline. At most one of Cron and Every may be set;
// Watch re-runs on changes to the source file.
type Schedule struct {
	Cron  string   `json:"cron" yaml:"cron"`
	Every Duration `json:"every" yaml:"every"`
	Watch bool     `json:"watch" yaml:"watch"`
}

// Duration decodes "5m" style strings in both JSON and YAML.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\": %w", err)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
