package stage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"pipekit/internal/record"
)

// Aggregation is one output column of an Aggregate stage.
type Aggregation struct {
	Func  string // count, sum, avg, min, max, first, last
	Field string // empty only for count
	As    string
}

// ParseAggregation parses "count", "count(field)", "sum(amount)" or
// "max(ts) as latest".
func ParseAggregation(s string) (Aggregation, error) {
	src := strings.TrimSpace(s)
	var a Aggregation
	if head, alias, ok := cutFold(src, " as "); ok {
		src, a.As = strings.TrimSpace(head), strings.TrimSpace(alias)
		if a.As == "" {
			return Aggregation{}, fmt.Errorf("aggregation %q: empty alias", s)
		}
	}
	if open := strings.IndexByte(src, '('); open >= 0 {
		if !strings.HasSuffix(src, ")") {
			return Aggregation{}, fmt.Errorf("aggregation %q: missing ')'", s)
		}
		a.Func = strings.ToLower(strings.TrimSpace(src[:open]))
		a.Field = strings.TrimSpace(src[open+1 : len(src)-1])
	} else {
		a.Func = strings.ToLower(src)
	}
	switch a.Func {
	case "count":
	case "sum", "avg", "min", "max", "first", "last":
		if a.Field == "" {
			return Aggregation{}, fmt.Errorf("aggregation %q: %s needs a field", s, a.Func)
		}
	default:
		return Aggregation{}, fmt.Errorf("aggregation %q: unknown function %q", s, a.Func)
	}
	if a.As == "" {
		a.As = a.Func
		if a.Field != "" {
			a.As += "_" + a.Field
		}
	}
	return a, nil
}

func cutFold(s, sep string) (string, string, bool) {
	i := strings.Index(strings.ToLower(s), sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// Aggregate groups records by GroupBy fields and emits one record per group,
// in first-seen order, holding the group fields followed by the aggregates.
// A missing group field groups as null. Nulls are ignored by every function
// except first and last; count without a field counts records.
type Aggregate struct {
	name    string
	groupBy []string
	aggs    []Aggregation

	mu      sync.Mutex
	buckets map[uint64][]int
	groups  []*aggGroup
}

type aggGroup struct {
	key  []record.Value
	accs []aggAcc
}

type aggAcc struct {
	n       int64
	sumI    int64
	sumF    float64
	isFloat bool
	val     record.Value
	set     bool
}

// NewAggregate validates the aggregation list. Output names must be unique
// and must not shadow a group field.
func NewAggregate(name string, groupBy []string, aggs []Aggregation) (*Aggregate, error) {
	if len(aggs) == 0 {
		return nil, fmt.Errorf("aggregate: at least one aggregation is required")
	}
	seen := make(map[string]struct{}, len(groupBy)+len(aggs))
	for _, g := range groupBy {
		if _, dup := seen[g]; dup {
			return nil, fmt.Errorf("aggregate: duplicate group field %q", g)
		}
		seen[g] = struct{}{}
	}
	for _, a := range aggs {
		if _, dup := seen[a.As]; dup {
			return nil, fmt.Errorf("aggregate: duplicate output field %q", a.As)
		}
		seen[a.As] = struct{}{}
	}
	if name == "" {
		name = "aggregate"
	}
	return &Aggregate{
		name:    name,
		groupBy: groupBy,
		aggs:    aggs,
		buckets: make(map[uint64][]int),
	}, nil
}

func (a *Aggregate) Name() string { return a.name }
func (a *Aggregate) Mode() Mode   { return Barrier }

func (a *Aggregate) Process(_ context.Context, r record.Record) Outcome {
	// Validate numeric inputs first so a failing record leaves no trace.
	for _, ag := range a.aggs {
		if ag.Func != "sum" && ag.Func != "avg" {
			continue
		}
		v, ok := r.Lookup(ag.Field)
		if !ok || v.IsNull() {
			continue
		}
		if _, num := v.AsNumber(); !num {
			return Fail(fmt.Errorf("%s(%s): %s value is not numeric", ag.Func, ag.Field, v.Kind()))
		}
	}

	key := make([]record.Value, len(a.groupBy))
	for i, g := range a.groupBy {
		if v, ok := r.Lookup(g); ok {
			key[i] = v
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	g := a.group(key)
	for i, ag := range a.aggs {
		acc := &g.accs[i]
		if ag.Func == "count" && ag.Field == "" {
			acc.n++
			continue
		}
		v, ok := r.Lookup(ag.Field)
		if !ok {
			continue
		}
		switch ag.Func {
		case "first":
			if !acc.set {
				acc.val, acc.set = v, true
			}
			continue
		case "last":
			acc.val, acc.set = v, true
			continue
		}
		if v.IsNull() {
			continue
		}
		acc.n++
		switch ag.Func {
		case "sum", "avg":
			if n, isInt := v.AsInt(); isInt && !acc.isFloat {
				if sum, ok := addInt(acc.sumI, n); ok {
					acc.sumI = sum
					continue
				}
				// Past int64; the sum carries on as a float.
			}
			if !acc.isFloat {
				acc.sumF, acc.isFloat = float64(acc.sumI), true
			}
			f, _ := v.AsNumber()
			acc.sumF += f
		case "min":
			if !acc.set || record.Compare(v, acc.val) < 0 {
				acc.val, acc.set = v, true
			}
		case "max":
			if !acc.set || record.Compare(v, acc.val) > 0 {
				acc.val, acc.set = v, true
			}
		}
	}
	return Emit()
}

// addInt reports false when a+b overflows int64.
func addInt(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func (a *Aggregate) group(key []record.Value) *aggGroup {
	h := hashKey(key)
	for _, gi := range a.buckets[h] {
		if equalKeys(a.groups[gi].key, key) {
			return a.groups[gi]
		}
	}
	g := &aggGroup{key: key, accs: make([]aggAcc, len(a.aggs))}
	a.groups = append(a.groups, g)
	a.buckets[h] = append(a.buckets[h], len(a.groups)-1)
	return g
}

// Flush emits one record per group in first-seen order.
func (a *Aggregate) Flush(ctx context.Context, emit func(record.Record) error) error {
	a.mu.Lock()
	groups := a.groups
	a.mu.Unlock()

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := record.NewBuilder(len(a.groupBy) + len(a.aggs))
		for i, name := range a.groupBy {
			if err := b.Set(name, g.key[i]); err != nil {
				return err
			}
		}
		for i, ag := range a.aggs {
			if err := b.Set(ag.As, g.accs[i].result(ag.Func)); err != nil {
				return err
			}
		}
		if err := emit(b.Build()); err != nil {
			return err
		}
	}
	return nil
}

func (acc *aggAcc) result(fn string) record.Value {
	switch fn {
	case "count":
		return record.Int(acc.n)
	case "sum":
		if acc.isFloat {
			return record.Float(acc.sumF)
		}
		return record.Int(acc.sumI)
	case "avg":
		if acc.n == 0 {
			return record.Null()
		}
		total := float64(acc.sumI)
		if acc.isFloat {
			total = acc.sumF
		}
		avg := total / float64(acc.n)
		if math.IsNaN(avg) {
			return record.Null()
		}
		return record.Float(avg)
	}
	if !acc.set {
		return record.Null()
	}
	return acc.val
}

// Close releases the group table.
func (a *Aggregate) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groups, a.buckets = nil, nil
	return nil
}
