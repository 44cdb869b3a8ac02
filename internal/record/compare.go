package record

import (
	"cmp"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Compare returns -1, 0 or +1 ordering a before, equal to, or after b.
//
// Different kinds order by rank. Within a kind: false < true; ints and
// floats numerically (NaN before every other float, and equal to itself);
// strings bytewise; lists item by item, then shorter first; records field
// by field comparing name then value, then fewer fields first.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool, KindInt:
		return cmp.Compare(a.n, b.n)
	case KindFloat:
		return cmp.Compare(a.f, b.f)
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindList:
		return compareLists(a.list, b.list)
	case KindRecord:
		return CompareRecords(*a.rec, *b.rec)
	}
	return 0
}

// CompareFold is Compare with strings ordered by their Unicode case
// folding, so "ſ", "S" and "s" are equal. Other kinds are unaffected.
func CompareFold(a, b Value) int {
	if a.kind == KindString && b.kind == KindString {
		return compareFoldStrings(a.s, b.s)
	}
	return Compare(a, b)
}

func compareFoldStrings(a, b string) int {
	if isASCII(a) && isASCII(b) {
		return compareASCIIFold(a, b)
	}
	return strings.Compare(fold(a), fold(b))
}

// Casers carry state and must not be shared between goroutines.
var folders = sync.Pool{New: func() any {
	c := cases.Fold()
	return &c
}}

func fold(s string) string {
	c := folders.Get().(*cases.Caser)
	defer folders.Put(c)
	return c.String(s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// compareASCIIFold matches fold for ASCII input without allocating.
func compareASCIIFold(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := cmp.Compare(lowerASCII(a[i]), lowerASCII(b[i])); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func compareLists(a, b []Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// CompareRecords orders records field by field.
func CompareRecords(a, b Record) int {
	n := min(len(a.fields), len(b.fields))
	for i := 0; i < n; i++ {
		if c := strings.Compare(a.fields[i].Name, b.fields[i].Name); c != 0 {
			return c
		}
		if c := Compare(a.fields[i].Value, b.fields[i].Value); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a.fields), len(b.fields))
}

// Equal reports whether a and b compare equal.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// EqualRecords reports whether two records hold the same fields in the
// same order with equal values.
func EqualRecords(a, b Record) bool { return CompareRecords(a, b) == 0 }
