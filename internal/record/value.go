// Package record implements the schema-free record model that flows through
// every pipeline.
//
// A Record is an ordered set of uniquely named fields. Each field holds a
// Value: a tagged variant whose Kind is one of null, bool, int, float,
// string, list or record. Tags are self-describing, so a stage can inspect
// any record without an external schema.
//
// Values and records are immutable once built. Methods that "modify" a
// record (With, Without, Rename) return a new record and never touch the
// receiver, so records can be shared across goroutines without copying.
//
// Ordering between any two values is total. Values of different kinds order
// by a fixed rank:
//
//	null < bool < int < float < string < list < record
//
// which lets a generic sort stage compare heterogeneous data. Note that the
// rank applies to int versus float as well: Int(5) sorts before Float(1.0).
package record

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the tag of a Value. The numeric order of the constants is the
// cross-kind sort rank.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindRecord
)

var kindNames = [...]string{"null", "bool", "int", "float", "string", "list", "record"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable tagged value. The zero Value is null.
type Value struct {
	kind Kind
	n    int64 // int payload; 0/1 for bool
	f    float64
	s    string
	list []Value
	rec  *Record
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.n = 1
	}
	return v
}

// Int returns an integer value.
func Int(n int64) Value { return Value{kind: KindInt, n: n} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value. The slice is copied.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Nested wraps a record as a value.
func Nested(r Record) Value {
	return Value{kind: KindRecord, rec: &r}
}

// Kind reports the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.n == 1, v.kind == KindBool }

// AsInt returns the integer payload and whether v is an int.
func (v Value) AsInt() (int64, bool) { return v.n, v.kind == KindInt }

// AsFloat returns the float payload and whether v is a float.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsNumber returns v as float64 for ints and floats.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.n), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns a copy of the list items and whether v is a list.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Len returns the number of items of a list, fields of a record, or bytes of
// a string. Other kinds report 0.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindRecord:
		return v.rec.Len()
	case KindString:
		return len(v.s)
	}
	return 0
}

// Index returns the i-th list item.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Null()
	}
	return v.list[i]
}

// AsRecord returns the nested record and whether v is a record.
func (v Value) AsRecord() (Record, bool) {
	if v.kind != KindRecord {
		return Record{}, false
	}
	return *v.rec, true
}

// String renders v as plain text: null is empty, strings are verbatim,
// numbers and bools use their Go formatting, lists and records use JSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.n == 1)
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	default:
		var b strings.Builder
		writeJSONValue(&b, v)
		return b.String()
	}
}

// Size approximates the heap footprint of v in bytes. It drives the sort
// engine's memory threshold, so it only needs to be proportional.
func (v Value) Size() int {
	const base = 48
	switch v.kind {
	case KindString:
		return base + len(v.s)
	case KindList:
		n := base
		for _, it := range v.list {
			n += it.Size()
		}
		return n
	case KindRecord:
		return base + v.rec.Size()
	}
	return base
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
