// Package sink holds the record consumers a pipeline run writes into:
// text formats on files or stdout, SQL tables through internal/storage,
// and MongoDB collections.
package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"pipekit/internal/driver"
	"pipekit/internal/record"
)

// Format names a text output format.
type Format string

const (
	JSONL Format = "jsonl"
	CSV   Format = "csv"
	Lines Format = "lines"
	Table Format = "table"
)

// Formats lists the text formats Open accepts.
var Formats = []Format{JSONL, CSV, Lines, Table}

// Sink is a driver.Sink that owns resources.
type Sink interface {
	driver.Sink
	Close() error
}

// Options configures a text sink.
type Options struct {
	Format Format
	// Path is a file path or "-" for stdout. ".gz" and ".zst" files are
	// compressed.
	Path  string
	CSV   CSVOptions
	Lines LineOptions
	Table TableOptions
}

var stdout io.Writer = os.Stdout

// Open creates the sink described by opts.
func Open(opts Options) (Sink, error) {
	if opts.Path == "" {
		opts.Path = "-"
	}
	switch opts.Format {
	case "", JSONL, CSV, Lines, Table:
	default:
		return nil, fmt.Errorf("sink: unknown format %q", opts.Format)
	}
	out, err := openOutput(opts.Path)
	if err != nil {
		return nil, err
	}
	if opts.Format == Table && opts.Path == "-" && opts.Table.Width == 0 {
		opts.Table.Width = terminalWidth()
	}
	switch opts.Format {
	case CSV:
		return newCSV(out, opts.CSV), nil
	case Lines:
		return newLines(out, opts.Lines), nil
	case Table:
		return newTable(out, opts.Table), nil
	default:
		return &JSONLSink{text{out: out}}, nil
	}
}

// output is a buffered writer over a file or stdout plus whatever must be
// closed behind it, innermost first.
type output struct {
	*bufio.Writer
	closers []io.Closer
}

// newOutput wraps w without taking ownership of it.
func newOutput(w io.Writer) *output {
	return &output{Writer: bufio.NewWriterSize(w, 64*1024)}
}

func openOutput(path string) (*output, error) {
	if path == "-" {
		return newOutput(stdout), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	var w io.Writer = f
	closers := []io.Closer{f}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		zw := gzip.NewWriter(f)
		w = zw
		closers = append([]io.Closer{zw}, closers...)
	case ".zst", ".zstd":
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		w = zw
		closers = append([]io.Closer{zw}, closers...)
	}
	out := newOutput(w)
	out.closers = closers
	return out, nil
}

// Close flushes the buffer and closes compressors before the file.
func (o *output) Close() error {
	err := o.Flush()
	for _, c := range o.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	o.closers = nil
	return err
}

// text holds what every text sink shares: the output, a ctx check and the
// count of records written since the last successful flush.
type text struct {
	out     *output
	pending int
}

func (t *text) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.out.Flush(); err != nil {
		return err
	}
	t.pending = 0
	return nil
}

func (t *text) Close() error {
	if err := t.out.Close(); err != nil {
		return err
	}
	t.pending = 0
	return nil
}

// Uncommitted counts records that may still sit in a buffer.
func (t *text) Uncommitted() int { return t.pending }

// JSONLSink writes one JSON object per line, fields in record order.
type JSONLSink struct {
	text
}

// NewJSONL writes to w. Close flushes but does not close w.
func NewJSONL(w io.Writer) *JSONLSink { return &JSONLSink{text{out: newOutput(w)}} }

func (s *JSONLSink) Write(_ context.Context, r record.Record) error {
	b, err := r.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := s.out.Write(b); err != nil {
		return err
	}
	if err := s.out.WriteByte('\n'); err != nil {
		return err
	}
	s.pending++
	return nil
}
