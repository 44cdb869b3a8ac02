package stage

import (
	"context"
	"fmt"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// Flatten explodes a list field into one record per element. The element
// replaces the list under As (default: the same field name).
type Flatten struct {
	name      string
	field     string
	as        string
	keepEmpty bool
}

// NewFlatten builds a flatten stage. With keepEmpty, an empty or null list
// yields the record once with the field set to null instead of dropping it.
func NewFlatten(name, field, as string, keepEmpty bool) (*Flatten, error) {
	if field == "" {
		return nil, fmt.Errorf("flatten: field is required")
	}
	if name == "" {
		name = "flatten"
	}
	if as == "" {
		as = field
	}
	return &Flatten{name: name, field: field, as: as, keepEmpty: keepEmpty}, nil
}

func (f *Flatten) Name() string { return f.name }
func (f *Flatten) Mode() Mode   { return Streaming }

func (f *Flatten) Process(_ context.Context, r record.Record) Outcome {
	v, ok := r.Lookup(f.field)
	if !ok {
		return Fail(fmt.Errorf("%w: %q", errs.ErrMissingField, f.field))
	}
	base := r
	if f.as != f.field {
		base = r.Without(f.field)
	}
	if v.IsNull() || v.Len() == 0 {
		if v.Kind() != record.KindNull && v.Kind() != record.KindList {
			return Fail(fmt.Errorf("field %q is %s, not a list", f.field, v.Kind()))
		}
		if f.keepEmpty {
			return Emit(base.With(f.as, record.Null()))
		}
		return Skip()
	}
	items, ok := v.AsList()
	if !ok {
		return Fail(fmt.Errorf("field %q is %s, not a list", f.field, v.Kind()))
	}
	out := make([]record.Record, len(items))
	for i, it := range items {
		out[i] = base.With(f.as, it)
	}
	return Emit(out...)
}
