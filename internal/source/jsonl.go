package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// JSONLReader emits one record per non-blank line, each line holding one
// JSON object.
type JSONLReader struct {
	name string
	br   *bufio.Reader
	line int
	eof  bool
}

// NewJSONL wraps r.
func NewJSONL(r io.Reader, name string) *JSONLReader {
	return &JSONLReader{name: name, br: bufio.NewReaderSize(r, 64*1024)}
}

// Next implements driver.Source.
func (j *JSONLReader) Next(ctx context.Context) (record.Record, error) {
	for !j.eof {
		raw, err := j.br.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return record.Record{}, fmt.Errorf("read %s: %w", j.name, err)
			}
			j.eof = true
		}
		if len(raw) == 0 && j.eof {
			break
		}
		j.line++
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		rec, err := record.ParseJSON(raw)
		if err != nil {
			var pe *errs.ParseError
			if errors.As(err, &pe) {
				return record.Record{}, &errs.ParseError{Source: j.name, Line: j.line, Err: pe.Err}
			}
			return record.Record{}, err
		}
		return rec, nil
	}
	return record.Record{}, io.EOF
}
