package stage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"pipekit/internal/expr"
	"pipekit/internal/record"
)

// Assignment sets Field to the value of Expr.
type Assignment struct {
	Field string
	Expr  *expr.Expr
}

// ParseAssignment parses "field = expression".
func ParseAssignment(s string) (Assignment, error) {
	i := strings.IndexByte(s, '=')
	if i <= 0 || (i+1 < len(s) && s[i+1] == '=') {
		return Assignment{}, fmt.Errorf("assignment %q: want field = expression", s)
	}
	field := strings.TrimSpace(s[:i])
	if field == "" || strings.ContainsAny(field, "!<> \t") {
		return Assignment{}, fmt.Errorf("assignment %q: invalid field name %q", s, field)
	}
	e, err := expr.Compile(s[i+1:])
	if err != nil {
		return Assignment{}, fmt.Errorf("assignment %q: %w", s, err)
	}
	return Assignment{Field: field, Expr: e}, nil
}

// MapSpec configures a Map stage. Assignments run in order and each sees
// the fields set by the ones before it; renames run next, drops last.
type MapSpec struct {
	Set    []Assignment
	Rename map[string]string
	Drop   []string
}

// Map derives exactly one new record from each input record.
type Map struct {
	name   string
	spec   MapSpec
	rename [][2]string
}

// NewMap validates spec and builds a map stage.
func NewMap(name string, spec MapSpec) (*Map, error) {
	if len(spec.Set) == 0 && len(spec.Rename) == 0 && len(spec.Drop) == 0 {
		return nil, fmt.Errorf("map: nothing to do")
	}
	if name == "" {
		name = "map"
	}
	m := &Map{name: name, spec: spec}
	for _, from := range slices.Sorted(maps.Keys(spec.Rename)) {
		to := spec.Rename[from]
		if to == "" {
			return nil, fmt.Errorf("map: rename %q has an empty target", from)
		}
		m.rename = append(m.rename, [2]string{from, to})
	}
	return m, nil
}

func (m *Map) Name() string { return m.name }
func (m *Map) Mode() Mode   { return Streaming }

func (m *Map) Process(_ context.Context, r record.Record) Outcome {
	out := r
	for _, a := range m.spec.Set {
		v, err := a.Expr.Eval(out)
		if err != nil {
			return Fail(fmt.Errorf("set %s: %w", a.Field, err))
		}
		out = out.With(a.Field, v)
	}
	for _, rn := range m.rename {
		var err error
		if out, err = out.Rename(rn[0], rn[1]); err != nil {
			return Fail(err)
		}
	}
	if len(m.spec.Drop) > 0 {
		out = out.Without(m.spec.Drop...)
	}
	return Emit(out)
}
