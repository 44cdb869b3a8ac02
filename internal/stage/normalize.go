package stage

import (
	"context"
	"fmt"

	"pipekit/internal/record"
	"pipekit/internal/textutil"
)

// Normalize cleans string fields: trimming always, plus whatever the
// textutil options enable. Non-string values are left alone.
type Normalize struct {
	name   string
	fields []string
	norm   *textutil.Normalizer
}

// NewNormalize builds a normalize stage. An empty fields list means every
// top-level string field.
func NewNormalize(name string, fields []string, opts textutil.NormalizeOptions) (*Normalize, error) {
	n, err := textutil.NewNormalizer(opts)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	if name == "" {
		name = "normalize"
	}
	return &Normalize{name: name, fields: fields, norm: n}, nil
}

func (n *Normalize) Name() string { return n.name }
func (n *Normalize) Mode() Mode   { return Streaming }

func (n *Normalize) Process(_ context.Context, r record.Record) Outcome {
	out := r
	apply := func(name string, v record.Value) {
		s, ok := v.AsString()
		if !ok {
			return
		}
		if ns := n.norm.String(s); ns != s {
			out = out.With(name, record.String(ns))
		}
	}
	if len(n.fields) == 0 {
		for i := 0; i < r.Len(); i++ {
			f := r.Field(i)
			apply(f.Name, f.Value)
		}
		return Emit(out)
	}
	for _, name := range n.fields {
		if v, ok := r.Lookup(name); ok {
			apply(name, v)
		}
	}
	return Emit(out)
}
