package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"pipekit/internal/errs"
)

// ParseJSON decodes one JSON object into a record, preserving key order.
// Integral numbers become ints; other numbers become floats. Malformed
// input, a non-object top level, trailing data or duplicate keys yield a
// *errs.ParseError.
func ParseJSON(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := DecodeValue(dec)
	if err != nil {
		return Record{}, &errs.ParseError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Record{}, &errs.ParseError{Err: errors.New("trailing data after object")}
	}
	r, ok := v.AsRecord()
	if !ok {
		return Record{}, &errs.ParseError{Err: fmt.Errorf("expected object, got %s", v.Kind())}
	}
	return r, nil
}

// DecodeValue reads the next JSON value from dec. The decoder should have
// UseNumber enabled so integers survive intact.
func DecodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return DecodeToken(dec, tok)
}

// DecodeToken finishes decoding a value whose first token has already been
// read from dec.
func DecodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return numberValue(string(t))
	case float64:
		return Float(t), nil
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return Value{}, fmt.Errorf("unexpected delimiter %q", t)
	}
	return Value{}, fmt.Errorf("unexpected token %T", tok)
}

func decodeObject(dec *json.Decoder) (Value, error) {
	b := NewBuilder(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		name, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key must be a string, got %T", tok)
		}
		v, err := DecodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		if err := b.Set(name, v); err != nil {
			return Value{}, err
		}
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return Value{}, err
	}
	return Nested(b.Build()), nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	var items []Value
	for dec.More() {
		v, err := DecodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return Value{}, err
	}
	return Value{kind: KindList, list: items}, nil
}

func numberValue(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(n), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("number %q: %w", s, err)
	}
	return Float(f), nil
}

// MarshalJSON encodes r as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	writeJSONRecord(&b, r)
	return []byte(b.String()), nil
}

// MarshalJSON encodes v. Non-finite floats are written as the strings
// "NaN", "+Inf" and "-Inf"; whole floats keep a ".0" so they read back as
// floats.
func (v Value) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	writeJSONValue(&b, v)
	return []byte(b.String()), nil
}

func writeJSONRecord(b *strings.Builder, r Record) {
	b.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(b, f.Name)
		b.WriteByte(':')
		writeJSONValue(b, f.Value)
	}
	b.WriteByte('}')
}

func writeJSONValue(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		b.WriteString(strconv.FormatBool(v.n == 1))
	case KindInt:
		b.WriteString(strconv.FormatInt(v.n, 10))
	case KindFloat:
		s := formatFloat(v.f)
		if s == "NaN" || s == "+Inf" || s == "-Inf" {
			writeJSONString(b, s)
			return
		}
		b.WriteString(s)
	case KindString:
		writeJSONString(b, v.s)
	case KindList:
		b.WriteByte('[')
		for i, it := range v.list {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONValue(b, it)
		}
		b.WriteByte(']')
	case KindRecord:
		writeJSONRecord(b, *v.rec)
	}
}

func writeJSONString(b *strings.Builder, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}
