package record

import (
	"fmt"
	"strconv"
	"strings"

	"pipekit/internal/errs"
)

// Header is a validated list of column names for delimited input.
type Header []string

// NewHeader trims and validates column names: they must be non-empty and
// unique.
func NewHeader(names []string) (Header, error) {
	seen := make(map[string]struct{}, len(names))
	out := make(Header, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if i == 0 {
			n = strings.TrimPrefix(n, "\ufeff")
		}
		if n == "" {
			return nil, &errs.ParseError{Line: 1, Err: fmt.Errorf("column %d has an empty name", i+1)}
		}
		if _, dup := seen[n]; dup {
			return nil, &errs.ParseError{Line: 1, Err: fmt.Errorf("duplicate column %q", n)}
		}
		seen[n] = struct{}{}
		out[i] = n
	}
	return out, nil
}

// ParseDelimited builds a record from one row of already split fields.
// With infer set, cells are typed by InferValue; otherwise every cell is a
// string (empty cells included). A width mismatch is a *errs.ParseError.
func ParseDelimited(h Header, cells []string, infer bool) (Record, error) {
	if len(cells) != len(h) {
		return Record{}, &errs.ParseError{Err: fmt.Errorf("row has %d fields, header has %d", len(cells), len(h))}
	}
	fields := make([]Field, len(h))
	for i, name := range h {
		var v Value
		if infer {
			v = InferValue(cells[i])
		} else {
			v = String(cells[i])
		}
		fields[i] = Field{Name: name, Value: v}
	}
	return fromFields(fields), nil
}

// InferValue types a raw text cell: blank becomes null, "true"/"false"
// (any case) become bools, integers become ints, other numbers become
// floats, everything else stays a string with surrounding space trimmed.
func InferValue(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Null()
	}
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if looksNumeric(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	}
	return String(s)
}

// looksNumeric filters out words ParseFloat would accept ("inf", "nan")
// and hex forms, which are far more likely to be text in tabular data.
func looksNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return true
}
