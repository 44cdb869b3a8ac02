package sorter

import (
	"fmt"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// CompareOptions tune a Comparator.
type CompareOptions struct {
	// Schema, when non-empty, lists the fields records are expected to
	// carry; keys naming anything else are rejected.
	Schema []string
	// FoldCase compares strings case-insensitively.
	FoldCase bool
}

// Comparator orders records by a list of keys. Values compare by the
// record package's tag-rank total order; a missing field counts as null.
type Comparator struct {
	keys []Key
	cmp  func(a, b record.Value) int
}

// NewComparator validates keys: at least one, no repeated field and, with a
// schema hint, only known fields. Failures wrap errs.ErrInvalidSortKey in a
// *errs.ConfigError.
func NewComparator(keys []Key, opts CompareOptions) (*Comparator, error) {
	if len(keys) == 0 {
		return nil, &errs.ConfigError{Path: "keys", Msg: "at least one sort key is required", Err: errs.ErrInvalidSortKey}
	}
	var schema map[string]struct{}
	if len(opts.Schema) > 0 {
		schema = make(map[string]struct{}, len(opts.Schema))
		for _, f := range opts.Schema {
			schema[f] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(keys))
	for i, k := range keys {
		path := fmt.Sprintf("keys[%d]", i)
		if k.Field == "" {
			return nil, &errs.ConfigError{Path: path, Msg: "empty field", Err: errs.ErrInvalidSortKey}
		}
		if _, dup := seen[k.Field]; dup {
			return nil, &errs.ConfigError{Path: path, Msg: fmt.Sprintf("field %q repeated", k.Field), Err: errs.ErrInvalidSortKey}
		}
		seen[k.Field] = struct{}{}
		if schema != nil {
			if _, ok := schema[k.Field]; !ok {
				return nil, &errs.ConfigError{Path: path, Msg: fmt.Sprintf("field %q is not in the schema", k.Field), Err: errs.ErrInvalidSortKey}
			}
		}
		if k.Direction > Desc || k.Nulls > NullsFirst {
			return nil, &errs.ConfigError{Path: path, Msg: "invalid direction or null order", Err: errs.ErrInvalidSortKey}
		}
	}
	c := &Comparator{keys: append([]Key(nil), keys...), cmp: record.Compare}
	if opts.FoldCase {
		c.cmp = record.CompareFold
	}
	return c, nil
}

// Keys returns a copy of the configured keys.
func (c *Comparator) Keys() []Key { return append([]Key(nil), c.keys...) }

// Compare returns -1, 0 or 1. The first key that differs decides; nulls
// follow the key's NullOrder independent of its Direction.
func (c *Comparator) Compare(a, b record.Record) int {
	for _, k := range c.keys {
		va, _ := a.Lookup(k.Field)
		vb, _ := b.Lookup(k.Field)
		an, bn := va.IsNull(), vb.IsNull()
		switch {
		case an && bn:
			continue
		case an || bn:
			r := 1
			if an == (k.Nulls == NullsFirst) {
				r = -1
			}
			return r
		}
		r := c.cmp(va, vb)
		if r == 0 {
			continue
		}
		if k.Direction == Desc {
			return -r
		}
		return r
	}
	return 0
}
