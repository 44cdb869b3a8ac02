package stage

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"pipekit/internal/record"
)

// CoerceSpec maps fields to target types.
type CoerceSpec struct {
	// Types maps field name to "int", "float", "bool", "date" or "text".
	Types map[string]string
	// Layout is tried first for dates. Output dates are always 2006-01-02.
	Layout string
	// Truthy and Falsy replace the built-in boolean words when either is set.
	Truthy []string
	Falsy  []string
}

// Coerce converts string fields to typed values using a plan compiled once
// per stage. Values that are already typed pass through untouched; blank
// strings become null; unparsable strings fail the record.
type Coerce struct {
	name string
	plan []fieldPlan
}

type fieldPlan struct {
	field  string
	typ    string
	coerce func(s string) (record.Value, bool)
}

// NewCoerce compiles spec.
func NewCoerce(name string, spec CoerceSpec) (*Coerce, error) {
	if len(spec.Types) == 0 {
		return nil, fmt.Errorf("coerce: no field types given")
	}
	if name == "" {
		name = "coerce"
	}
	vocab := defaultBools
	if len(spec.Truthy) > 0 || len(spec.Falsy) > 0 {
		vocab = newBoolVocab(spec.Truthy, spec.Falsy)
	}

	c := &Coerce{name: name}
	for _, field := range slices.Sorted(maps.Keys(spec.Types)) {
		typ := strings.ToLower(strings.TrimSpace(spec.Types[field]))
		fp := fieldPlan{field: field, typ: typ}
		switch typ {
		case "int":
			fp.coerce = func(s string) (record.Value, bool) {
				n, ok := parseWhole(s)
				return record.Int(n), ok
			}
		case "float":
			fp.coerce = func(s string) (record.Value, bool) {
				f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
				return record.Float(f), err == nil
			}
		case "bool":
			fp.coerce = func(s string) (record.Value, bool) {
				b, ok := vocab[strings.ToLower(s)]
				return record.Bool(b), ok
			}
		case "date":
			layout := spec.Layout
			fp.coerce = func(s string) (record.Value, bool) {
				t, ok := parseDate(s, layout)
				if !ok {
					return record.Value{}, false
				}
				return record.String(t.Format(time.DateOnly)), true
			}
		case "", "string", "text":
			fp.typ = "text"
			fp.coerce = func(s string) (record.Value, bool) { return record.String(s), true }
		default:
			return nil, fmt.Errorf("coerce: field %q: unknown type %q", field, typ)
		}
		c.plan = append(c.plan, fp)
	}
	return c, nil
}

func (c *Coerce) Name() string { return c.name }
func (c *Coerce) Mode() Mode   { return Streaming }

func (c *Coerce) Process(_ context.Context, r record.Record) Outcome {
	out := r
	for _, fp := range c.plan {
		v, ok := out.Lookup(fp.field)
		if !ok {
			continue
		}
		s, isStr := v.AsString()
		if !isStr {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			out = out.With(fp.field, record.Null())
			continue
		}
		nv, ok := fp.coerce(s)
		if !ok {
			return Fail(fmt.Errorf("field %q: cannot coerce %q to %s", fp.field, s, fp.typ))
		}
		out = out.With(fp.field, nv)
	}
	return Emit(out)
}

// defaultBools accepts the usual English words plus Czech ano/ne.
var defaultBools = newBoolVocab(
	[]string{"1", "t", "true", "yes", "y", "ano"},
	[]string{"0", "f", "false", "no", "n", "ne"},
)

func newBoolVocab(truthy, falsy []string) map[string]bool {
	v := make(map[string]bool, len(truthy)+len(falsy))
	for _, w := range truthy {
		v[strings.ToLower(strings.TrimSpace(w))] = true
	}
	for _, w := range falsy {
		v[strings.ToLower(strings.TrimSpace(w))] = false
	}
	return v
}

// parseWhole accepts integers and floats with no fractional part ("42.0").
func parseWhole(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n, true
	}
	if !strings.ContainsRune(s, '.') {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

var dateLayouts = []string{time.DateOnly, time.RFC3339, "02.01.2006", "2.1.2006"}

// parseDate tries layout, then the built-in layouts in order.
func parseDate(s, layout string) (time.Time, bool) {
	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
