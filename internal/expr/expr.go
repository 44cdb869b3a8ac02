// Package expr compiles small HCL expressions that filter and map stages
// evaluate against records.
//
// Each top-level field of the record is bound as a variable of the same
// name, so a predicate reads naturally:
//
//	age >= 18 && country == "CZ"
//	upper(trimspace(name))
//
// Fields whose names are not valid identifiers are reachable through the
// "record" variable, which holds the whole record as an object:
//
//	record["first name"] != null
//
// A referenced field that is absent from a record evaluates to null, so a
// comparison against it fails with an evaluation error rather than silently
// passing.
package expr

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"pipekit/internal/record"
)

// RecordVar names the variable bound to the whole record.
const RecordVar = "record"

// functions is the fixed function table available to every expression.
var functions = map[string]function.Function{
	"abs":          stdlib.AbsoluteFunc,
	"ceil":         stdlib.CeilFunc,
	"coalesce":     stdlib.CoalesceFunc,
	"concat":       stdlib.ConcatFunc,
	"contains":     stdlib.ContainsFunc,
	"floor":        stdlib.FloorFunc,
	"format":       stdlib.FormatFunc,
	"join":         stdlib.JoinFunc,
	"length":       stdlib.LengthFunc,
	"lower":        stdlib.LowerFunc,
	"max":          stdlib.MaxFunc,
	"min":          stdlib.MinFunc,
	"parseint":     stdlib.ParseIntFunc,
	"regex":        stdlib.RegexFunc,
	"regexreplace": stdlib.RegexReplaceFunc,
	"replace":      stdlib.ReplaceFunc,
	"split":        stdlib.SplitFunc,
	"strlen":       stdlib.StrlenFunc,
	"substr":       stdlib.SubstrFunc,
	"title":        stdlib.TitleFunc,
	"trim":         stdlib.TrimFunc,
	"trimprefix":   stdlib.TrimPrefixFunc,
	"trimspace":    stdlib.TrimSpaceFunc,
	"trimsuffix":   stdlib.TrimSuffixFunc,
	"upper":        stdlib.UpperFunc,
}

// Functions returns the sorted names of the available functions.
func Functions() []string {
	out := make([]string, 0, len(functions))
	for name := range functions {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Expr is a compiled expression. It is safe for concurrent use.
type Expr struct {
	src   string
	expr  hclsyntax.Expression
	roots []string
	vars  []hcl.Traversal
	// whole is set when the expression is a bare field reference.
	whole hcl.Traversal
	// floatLit is set when the source has a literal like 1.0 or 2e3.
	floatLit bool
}

// Compile parses src. Syntax errors and calls to unknown functions are
// reported here, before any record is evaluated.
func Compile(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("expression is empty")
	}
	e, diags := hclsyntax.ParseExpression([]byte(src), "expr", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %s", src, diagString(diags))
	}
	var unknown []string
	floatLit := false
	_ = hclsyntax.VisitAll(e, func(n hclsyntax.Node) hcl.Diagnostics {
		switch n := n.(type) {
		case *hclsyntax.FunctionCallExpr:
			if _, known := functions[n.Name]; !known {
				unknown = append(unknown, n.Name)
			}
		case *hclsyntax.LiteralValueExpr:
			rng := n.SrcRange
			if n.Val.Type() == cty.Number && rng.End.Byte <= len(src) &&
				strings.ContainsAny(src[rng.Start.Byte:rng.End.Byte], ".eE") {
				floatLit = true
			}
		}
		return nil
	})
	if len(unknown) > 0 {
		return nil, fmt.Errorf("parse %q: unknown function %s", src, strings.Join(unknown, ", "))
	}

	vars := e.Variables()
	seen := map[string]struct{}{}
	var roots []string
	for _, tr := range vars {
		name := tr.RootName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		roots = append(roots, name)
	}
	x := &Expr{src: src, expr: e, roots: roots, vars: vars, floatLit: floatLit}
	if st, ok := e.(*hclsyntax.ScopeTraversalExpr); ok {
		x.whole = st.Traversal
	}
	return x, nil
}

// MustCompile is Compile for fixed expressions; it panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Fields returns the record fields the expression references directly.
func (e *Expr) Fields() []string {
	out := make([]string, 0, len(e.roots))
	for _, r := range e.roots {
		if r != RecordVar {
			out = append(out, r)
		}
	}
	return out
}

// Eval evaluates the expression against r. A bare field reference returns
// the field's value unchanged. Otherwise whole-number results are ints,
// unless a referenced field holds a float or the source has a float
// literal, in which case every number in the result is a float.
func (e *Expr) Eval(r record.Record) (record.Value, error) {
	if e.whole != nil {
		if v, ok := resolve(r, e.whole); ok {
			return v, nil
		}
	}
	v, err := e.evalCty(r)
	if err != nil {
		return record.Value{}, err
	}
	return fromCty(v, e.floaty(r))
}

func (e *Expr) floaty(r record.Record) bool {
	if e.floatLit {
		return true
	}
	for _, tr := range e.vars {
		if v, ok := resolve(r, tr); ok && v.Kind() == record.KindFloat {
			return true
		}
	}
	return false
}

// resolve follows a traversal through r's fields, nested records and
// lists. It reports false when any step does not resolve.
func resolve(r record.Record, tr hcl.Traversal) (record.Value, bool) {
	root := tr.RootName()
	v, ok := r.Lookup(root)
	if !ok {
		if root != RecordVar {
			return record.Value{}, false
		}
		v = record.Nested(r)
	}
	for _, step := range tr[1:] {
		var key cty.Value
		switch s := step.(type) {
		case hcl.TraverseAttr:
			key = cty.StringVal(s.Name)
		case hcl.TraverseIndex:
			key = s.Key
		default:
			return record.Value{}, false
		}
		if !key.IsKnown() || key.IsNull() {
			return record.Value{}, false
		}
		switch key.Type() {
		case cty.String:
			rec, isRec := v.AsRecord()
			if !isRec {
				return record.Value{}, false
			}
			if v, ok = rec.Lookup(key.AsString()); !ok {
				return record.Value{}, false
			}
		case cty.Number:
			items, isList := v.AsList()
			i, acc := key.AsBigFloat().Int64()
			if !isList || acc != big.Exact || i < 0 || i >= int64(len(items)) {
				return record.Value{}, false
			}
			v = items[i]
		default:
			return record.Value{}, false
		}
	}
	return v, true
}

// EvalBool evaluates the expression as a predicate. A null or non-boolean
// result is an error.
func (e *Expr) EvalBool(r record.Record) (bool, error) {
	v, err := e.evalCty(r)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, fmt.Errorf("%q evaluated to null", e.src)
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean: %w", e.src, err)
	}
	return b.True(), nil
}

func (e *Expr) evalCty(r record.Record) (cty.Value, error) {
	vars := make(map[string]cty.Value, len(e.roots))
	for _, name := range e.roots {
		if name == RecordVar && !r.Has(RecordVar) {
			vars[name] = recordToCty(r)
			continue
		}
		if v, ok := r.Lookup(name); ok {
			vars[name] = ToCty(v)
		} else {
			vars[name] = cty.NullVal(cty.DynamicPseudoType)
		}
	}
	ctx := &hcl.EvalContext{Variables: vars, Functions: functions}
	v, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("eval %q: %s", e.src, diagString(diags))
	}
	if !v.IsWhollyKnown() {
		return cty.NilVal, fmt.Errorf("eval %q: result is unknown", e.src)
	}
	return v, nil
}

// ToCty converts a record value into a cty value. NaN has no cty
// representation and becomes a null number.
func ToCty(v record.Value) cty.Value {
	switch v.Kind() {
	case record.KindBool:
		b, _ := v.AsBool()
		return cty.BoolVal(b)
	case record.KindInt:
		n, _ := v.AsInt()
		return cty.NumberIntVal(n)
	case record.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) {
			return cty.NullVal(cty.Number)
		}
		return cty.NumberVal(big.NewFloat(f))
	case record.KindString:
		s, _ := v.AsString()
		return cty.StringVal(s)
	case record.KindList:
		items, _ := v.AsList()
		if len(items) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(items))
		for i, it := range items {
			vals[i] = ToCty(it)
		}
		return cty.TupleVal(vals)
	case record.KindRecord:
		r, _ := v.AsRecord()
		return recordToCty(r)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}

func recordToCty(r record.Record) cty.Value {
	if r.Len() == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, r.Len())
	for i := 0; i < r.Len(); i++ {
		f := r.Field(i)
		attrs[f.Name] = ToCty(f.Value)
	}
	return cty.ObjectVal(attrs)
}

// FromCty converts an evaluated cty value back into a record value. Whole
// numbers that fit in int64 become ints. Object attributes come back in
// lexical order since cty objects carry no field order.
func FromCty(v cty.Value) (record.Value, error) { return fromCty(v, false) }

func fromCty(v cty.Value, floats bool) (record.Value, error) {
	if v.IsNull() {
		return record.Null(), nil
	}
	if !v.IsKnown() {
		return record.Value{}, errors.New("unknown value")
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return record.Bool(v.True()), nil
	case ty == cty.String:
		return record.String(v.AsString()), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() && !floats {
			if n, acc := bf.Int64(); acc == big.Exact {
				return record.Int(n), nil
			}
		}
		f, _ := bf.Float64()
		return record.Float(f), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var items []record.Value
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			rv, err := fromCty(ev, floats)
			if err != nil {
				return record.Value{}, err
			}
			items = append(items, rv)
		}
		return record.List(items...), nil
	case ty.IsObjectType() || ty.IsMapType():
		b := record.NewBuilder(v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			rv, err := fromCty(ev, floats)
			if err != nil {
				return record.Value{}, err
			}
			if err := b.Set(k.AsString(), rv); err != nil {
				return record.Value{}, err
			}
		}
		return record.Nested(b.Build()), nil
	}
	return record.Value{}, fmt.Errorf("unsupported result type %s", ty.FriendlyName())
}

func diagString(diags hcl.Diagnostics) string {
	parts := make([]string, 0, len(diags))
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		msg := d.Summary
		if d.Detail != "" {
			msg += ": " + d.Detail
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
