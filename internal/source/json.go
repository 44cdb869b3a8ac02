package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// JSONOptions configures the json format.
type JSONOptions struct {
	// Envelope names the top-level field holding the record array. When
	// empty, the first field (in document order) whose value is a
	// non-empty array of objects is used, and an object without one is a
	// single record.
	Envelope string
}

// JSONReader reads a JSON document whose root is an array of objects, an
// object wrapping such an array, or a single object. Further top-level
// values after the root are read as records too, so concatenated objects
// work. Elements of a root or envelope array are streamed; other shapes
// are decoded whole. A non-object element is a *errs.ParseError; broken
// JSON syntax ends the stream with a plain error.
type JSONReader struct {
	name     string
	dec      *json.Decoder
	envelope string

	inArray  bool // streaming array elements
	closeObj bool // the array sits inside an envelope object
	queue    []record.Value
	elem     int
}

// NewJSON wraps r.
func NewJSON(r io.Reader, name string, opts JSONOptions) *JSONReader {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &JSONReader{name: name, dec: dec, envelope: opts.Envelope}
}

// Next implements driver.Source.
func (j *JSONReader) Next(ctx context.Context) (record.Record, error) {
	for {
		if len(j.queue) > 0 {
			v := j.queue[0]
			j.queue = j.queue[1:]
			return j.object(v)
		}
		if j.inArray {
			if j.dec.More() {
				v, err := record.DecodeValue(j.dec)
				if err != nil {
					return record.Record{}, j.syntax(err)
				}
				return j.object(v)
			}
			if _, err := j.dec.Token(); err != nil { // ']'
				return record.Record{}, j.syntax(err)
			}
			j.inArray = false
			if j.closeObj {
				j.closeObj = false
				if err := j.skipFields(); err != nil {
					return record.Record{}, err
				}
			}
			continue
		}
		if err := j.root(); err != nil {
			return record.Record{}, err
		}
	}
}

// root reads the next top-level value and sets up streaming or the queue.
func (j *JSONReader) root() error {
	tok, err := j.dec.Token()
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return j.syntax(err)
	}
	d, isDelim := tok.(json.Delim)
	switch {
	case isDelim && d == '[':
		j.inArray = true
		return nil
	case isDelim && d == '{' && j.envelope != "":
		return j.openEnvelope()
	}
	v, err := record.DecodeToken(j.dec, tok)
	if err != nil {
		return j.syntax(err)
	}
	if r, ok := v.AsRecord(); ok {
		if items := firstObjectList(r); items != nil {
			j.queue = items
			return nil
		}
	}
	j.queue = []record.Value{v}
	return nil
}

// openEnvelope walks the fields of the current object until the envelope
// field and leaves the decoder inside its array.
func (j *JSONReader) openEnvelope() error {
	for j.dec.More() {
		tok, err := j.dec.Token()
		if err != nil {
			return j.syntax(err)
		}
		if key, _ := tok.(string); key == j.envelope {
			t, err := j.dec.Token()
			if err != nil {
				return j.syntax(err)
			}
			if d, ok := t.(json.Delim); !ok || d != '[' {
				return fmt.Errorf("%s: envelope field %q is not an array", j.name, j.envelope)
			}
			j.inArray, j.closeObj = true, true
			return nil
		}
		if _, err := record.DecodeValue(j.dec); err != nil {
			return j.syntax(err)
		}
	}
	return fmt.Errorf("%s: envelope field %q not found", j.name, j.envelope)
}

// skipFields consumes the rest of an envelope object after its array.
func (j *JSONReader) skipFields() error {
	for j.dec.More() {
		if _, err := j.dec.Token(); err != nil {
			return j.syntax(err)
		}
		if _, err := record.DecodeValue(j.dec); err != nil {
			return j.syntax(err)
		}
	}
	if _, err := j.dec.Token(); err != nil { // '}'
		return j.syntax(err)
	}
	return nil
}

func (j *JSONReader) object(v record.Value) (record.Record, error) {
	j.elem++
	r, ok := v.AsRecord()
	if !ok {
		return record.Record{}, &errs.ParseError{
			Source: j.name,
			Err:    fmt.Errorf("element %d: expected object, got %s", j.elem, v.Kind()),
		}
	}
	return r, nil
}

func (j *JSONReader) syntax(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("decode %s: %w", j.name, err)
}

// firstObjectList returns the items of the first field holding a non-empty
// list of objects. Null items are dropped.
func firstObjectList(r record.Record) []record.Value {
	for _, f := range r.Fields() {
		items, ok := f.Value.AsList()
		if !ok || len(items) == 0 {
			continue
		}
		out := make([]record.Value, 0, len(items))
		valid := true
		for _, it := range items {
			if it.IsNull() {
				continue
			}
			if it.Kind() != record.KindRecord {
				valid = false
				break
			}
			out = append(out, it)
		}
		if valid && len(out) > 0 {
			return out
		}
	}
	return nil
}
