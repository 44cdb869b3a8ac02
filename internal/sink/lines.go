package sink

import (
	"context"
	"io"

	"pipekit/internal/record"
)

// LineOptions configures the lines sink.
type LineOptions struct {
	// Field is written one value per line; empty means "line". A record
	// without it yields an empty line.
	Field string
}

// LinesSink writes a single field of each record per line.
type LinesSink struct {
	text
	field string
}

// NewLines writes to w. Close flushes but does not close w.
func NewLines(w io.Writer, opts LineOptions) *LinesSink { return newLines(newOutput(w), opts) }

func newLines(out *output, opts LineOptions) *LinesSink {
	field := opts.Field
	if field == "" {
		field = "line"
	}
	return &LinesSink{text: text{out: out}, field: field}
}

func (s *LinesSink) Write(_ context.Context, r record.Record) error {
	if v, ok := r.Lookup(s.field); ok {
		if _, err := s.out.WriteString(v.String()); err != nil {
			return err
		}
	}
	if err := s.out.WriteByte('\n'); err != nil {
		return err
	}
	s.pending++
	return nil
}
