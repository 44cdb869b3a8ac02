package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// CSVOptions configures the csv format.
type CSVOptions struct {
	// Comma is the field delimiter; ',' when zero.
	Comma rune
	// Columns names the fields when the input has no header row. When
	// set, the first row is data.
	Columns []string
	// HeaderMap renames columns after header normalization.
	HeaderMap map[string]string
	// NormalizeHeader lowercases names and replaces spaces with '_'.
	NormalizeHeader bool
	// Infer types cells (null, bool, int, float); otherwise every cell is
	// a string.
	Infer bool
	// LazyQuotes tolerates stray quotes inside unquoted fields.
	LazyQuotes bool
	// TrimSpace drops leading space in fields.
	TrimSpace bool
}

// CSVReader emits one record per data row. The header row, unless
// Columns is given, names the fields; a UTF-8 byte order mark before it is
// ignored. Rows with the wrong width and rows the csv reader rejects are
// reported as *errs.ParseError carrying the physical line.
type CSVReader struct {
	name   string
	cr     *csv.Reader
	opts   CSVOptions
	header record.Header
	err    error // sticky header error
}

// NewCSV wraps r.
func NewCSV(r io.Reader, name string, opts CSVOptions) *CSVReader {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opts.LazyQuotes
	cr.TrimLeadingSpace = opts.TrimSpace
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	return &CSVReader{name: name, cr: cr, opts: opts}
}

// Header returns the column names once the first record has been read.
func (c *CSVReader) Header() []string { return c.header }

// Next implements driver.Source.
func (c *CSVReader) Next(ctx context.Context) (record.Record, error) {
	if c.err != nil {
		return record.Record{}, c.err
	}
	if c.header == nil {
		if err := c.readHeader(); err != nil {
			c.err = err
			return record.Record{}, err
		}
	}
	row, err := c.cr.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return record.Record{}, &errs.ParseError{Source: c.name, Line: pe.Line, Err: pe.Err}
		}
		if errors.Is(err, io.EOF) {
			return record.Record{}, io.EOF
		}
		return record.Record{}, fmt.Errorf("read %s: %w", c.name, err)
	}
	line, _ := c.cr.FieldPos(0)
	rec, err := record.ParseDelimited(c.header, row, c.opts.Infer)
	if err != nil {
		var pe *errs.ParseError
		if errors.As(err, &pe) {
			return record.Record{}, &errs.ParseError{Source: c.name, Line: line, Err: pe.Err}
		}
		return record.Record{}, err
	}
	return rec, nil
}

func (c *CSVReader) readHeader() error {
	names := c.opts.Columns
	if len(names) == 0 {
		row, err := c.cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read header %s: %w", c.name, err)
		}
		names = make([]string, len(row))
		for i, n := range row {
			if i == 0 {
				n = strings.TrimPrefix(n, "\ufeff")
			}
			names[i] = c.headerName(n)
		}
	}
	h, err := record.NewHeader(names)
	if err != nil {
		var pe *errs.ParseError
		if errors.As(err, &pe) {
			return fmt.Errorf("header %s: %w", c.name, pe.Err)
		}
		return err
	}
	c.header = h
	return nil
}

func (c *CSVReader) headerName(raw string) string {
	n := strings.TrimSpace(raw)
	if c.opts.NormalizeHeader {
		n = strings.ReplaceAll(strings.ToLower(n), " ", "_")
	}
	if to, ok := c.opts.HeaderMap[n]; ok {
		n = to
	}
	return n
}
