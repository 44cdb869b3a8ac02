package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"pipekit/internal/record"
	"pipekit/internal/textutil"
)

// LineOptions configures the lines format.
type LineOptions struct {
	// Field names the text field; "line" when empty.
	Field string
	// KeepBlank emits records for lines that are empty after cleanup.
	KeepBlank bool
	// SkipComments drops lines starting with '#'.
	SkipComments bool
	// StripOrdinal removes list prefixes such as "12. ".
	StripOrdinal bool
	// Collapse squeezes runs of whitespace to one space.
	Collapse bool
	// Case is "", "lower", "upper" or "fold".
	Case string
}

// maxLine bounds a single input line.
const maxLine = 16 << 20

// LineReader emits one record {<field>: text, n: line number} per line.
// Surrounding whitespace is trimmed and blank lines are skipped unless
// KeepBlank is set.
type LineReader struct {
	name  string
	sc    *bufio.Scanner
	field string
	opts  LineOptions
	norm  *textutil.Normalizer
	line  int
}

// NewLines validates opts and wraps r.
func NewLines(r io.Reader, name string, opts LineOptions) (*LineReader, error) {
	n, err := lineNormalizer(opts)
	if err != nil {
		return nil, fmt.Errorf("lines: %w", err)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	field := opts.Field
	if field == "" {
		field = "line"
	}
	if field == "n" {
		return nil, fmt.Errorf("lines: field name %q collides with the line number", field)
	}
	return &LineReader{name: name, sc: sc, field: field, opts: opts, norm: n}, nil
}

// Next implements driver.Source.
func (l *LineReader) Next(ctx context.Context) (record.Record, error) {
	for l.sc.Scan() {
		l.line++
		text := l.norm.String(l.sc.Text())
		if text == "" && !l.opts.KeepBlank {
			continue
		}
		if l.opts.SkipComments && strings.HasPrefix(text, "#") {
			continue
		}
		return record.MustNew(
			record.F(l.field, record.String(text)),
			record.F("n", record.Int(int64(l.line))),
		), nil
	}
	if err := l.sc.Err(); err != nil {
		return record.Record{}, fmt.Errorf("read %s: %w", l.name, err)
	}
	return record.Record{}, io.EOF
}
