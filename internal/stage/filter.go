package stage

import (
	"context"
	"fmt"

	"pipekit/internal/expr"
	"pipekit/internal/record"
)

// Filter keeps records for which its predicate is true. A predicate that
// cannot be evaluated (missing field, wrong type) fails the record.
type Filter struct {
	name string
	pred *expr.Expr
}

// NewFilter compiles predicate into a filter stage.
func NewFilter(name, predicate string) (*Filter, error) {
	e, err := expr.Compile(predicate)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if name == "" {
		name = "filter"
	}
	return &Filter{name: name, pred: e}, nil
}

func (f *Filter) Name() string { return f.name }
func (f *Filter) Mode() Mode   { return Streaming }

// Predicate returns the compiled predicate.
func (f *Filter) Predicate() *expr.Expr { return f.pred }

func (f *Filter) Process(_ context.Context, r record.Record) Outcome {
	keep, err := f.pred.EvalBool(r)
	if err != nil {
		return Fail(err)
	}
	if !keep {
		return Skip()
	}
	return Emit(r)
}
