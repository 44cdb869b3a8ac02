// Package sorter implements the sort stage: a stable, comparator-driven
// multi-key sort that spills sorted chunks to disk and merges them back when
// its input outgrows the configured memory threshold.
package sorter

import (
	"fmt"
	"strings"

	"pipekit/internal/errs"
)

// Direction orders one key ascending or descending.
type Direction uint8

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// ParseDirection accepts asc/ascending and desc/descending.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	}
	return Asc, fmt.Errorf("unknown direction %q", s)
}

// NullOrder places null (and missing) values before or after everything
// else, regardless of Direction.
type NullOrder uint8

const (
	NullsLast NullOrder = iota
	NullsFirst
)

func (n NullOrder) String() string {
	if n == NullsFirst {
		return "nulls-first"
	}
	return "nulls-last"
}

// ParseNullOrder accepts nulls-first/first and nulls-last/last.
func ParseNullOrder(s string) (NullOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last", "nulls-last", "nulls_last":
		return NullsLast, nil
	case "first", "nulls-first", "nulls_first":
		return NullsFirst, nil
	}
	return NullsLast, fmt.Errorf("unknown null order %q", s)
}

// Key is one level of a composite ordering.
type Key struct {
	Field     string
	Direction Direction
	Nulls     NullOrder
}

func (k Key) String() string {
	return k.Field + ":" + k.Direction.String() + ":" + k.Nulls.String()
}

// ParseKey parses "field", "field:desc" or "field:desc:nulls-first". The
// direction and null order may appear in either order after the field.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	k := Key{Field: strings.TrimSpace(parts[0])}
	if k.Field == "" {
		return Key{}, fmt.Errorf("%w: %q has no field", errs.ErrInvalidSortKey, s)
	}
	if len(parts) > 3 {
		return Key{}, fmt.Errorf("%w: %q has too many parts", errs.ErrInvalidSortKey, s)
	}
	var sawDir, sawNulls bool
	for _, p := range parts[1:] {
		if d, err := ParseDirection(p); err == nil && !sawDir && strings.TrimSpace(p) != "" {
			k.Direction, sawDir = d, true
			continue
		}
		if n, err := ParseNullOrder(p); err == nil && !sawNulls && strings.TrimSpace(p) != "" {
			k.Nulls, sawNulls = n, true
			continue
		}
		return Key{}, fmt.Errorf("%w: %q: unexpected %q", errs.ErrInvalidSortKey, s, p)
	}
	return k, nil
}
