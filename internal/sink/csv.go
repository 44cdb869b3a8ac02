package sink

import (
	"context"
	"encoding/csv"
	"io"

	"pipekit/internal/ctxlog"
	"pipekit/internal/record"
)

// CSVOptions configures the CSV sink.
type CSVOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Columns fixes the header. Empty takes the first record's field names.
	Columns []string
	// NoHeader suppresses the header row.
	NoHeader bool
}

// CSVSink writes records as delimited rows. Fields outside the header are
// dropped, with one debug log per field name, and missing fields are
// written empty.
type CSVSink struct {
	text
	w       *csv.Writer
	columns []string
	header  bool
	row     []string
	known   map[string]bool // header columns and fields already reported
}

// NewCSV writes to w. Close flushes but does not close w.
func NewCSV(w io.Writer, opts CSVOptions) *CSVSink { return newCSV(newOutput(w), opts) }

func newCSV(out *output, opts CSVOptions) *CSVSink {
	w := csv.NewWriter(out)
	if opts.Comma != 0 {
		w.Comma = opts.Comma
	}
	return &CSVSink{
		text:    text{out: out},
		w:       w,
		columns: opts.Columns,
		header:  !opts.NoHeader,
	}
}

func (s *CSVSink) Write(ctx context.Context, r record.Record) error {
	if s.columns == nil {
		s.columns = r.Names()
	}
	if s.known == nil {
		s.known = make(map[string]bool, len(s.columns))
		for _, c := range s.columns {
			s.known[c] = true
		}
	}
	for i := 0; i < r.Len(); i++ {
		if name := r.Field(i).Name; !s.known[name] {
			s.known[name] = true
			ctxlog.FromContext(ctx).Debug("csv sink: field not in header, dropping it", "field", name, "columns", s.columns)
		}
	}
	if s.header {
		s.header = false
		if err := s.w.Write(s.columns); err != nil {
			return err
		}
	}
	if cap(s.row) < len(s.columns) {
		s.row = make([]string, len(s.columns))
	}
	s.row = s.row[:len(s.columns)]
	for i, c := range s.columns {
		s.row[i] = ""
		if v, ok := r.Lookup(c); ok {
			s.row[i] = v.String()
		}
	}
	if err := s.w.Write(s.row); err != nil {
		return err
	}
	s.pending++
	return nil
}

func (s *CSVSink) Flush(ctx context.Context) error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.text.Flush(ctx)
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.text.Close(); err == nil {
		err = cerr
	}
	return err
}
