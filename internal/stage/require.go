package stage

import (
	"context"
	"fmt"
	"strings"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// Require fails any record missing a value for one of its fields. Null and
// blank strings count as missing.
type Require struct {
	name   string
	fields []string
}

// NewRequire builds a require stage over fields.
func NewRequire(name string, fields []string) (*Require, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("require: no fields given")
	}
	if name == "" {
		name = "require"
	}
	return &Require{name: name, fields: fields}, nil
}

func (q *Require) Name() string { return q.name }
func (q *Require) Mode() Mode   { return Streaming }

func (q *Require) Process(_ context.Context, r record.Record) Outcome {
	for _, f := range q.fields {
		v, ok := r.Lookup(f)
		if !ok {
			return Fail(fmt.Errorf("%w: %q", errs.ErrMissingField, f))
		}
		if v.IsNull() {
			return Fail(fmt.Errorf("field %q is null", f))
		}
		if s, isStr := v.AsString(); isStr && strings.TrimSpace(s) == "" {
			return Fail(fmt.Errorf("field %q is empty", f))
		}
	}
	return Emit(r)
}
