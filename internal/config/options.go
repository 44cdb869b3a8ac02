package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// Options holds free-form per-component settings. Getters return def when
// a key is absent or holds another type. Numbers may arrive as float64
// (JSON) or int (YAML); the numeric getters accept both.
type Options map[string]any

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

func lookup[T any](o Options, key string, def T) T {
	if v, ok := o[key].(T); ok {
		return v
	}
	return def
}

// String returns key as a string or def.
func (o Options) String(key, def string) string { return lookup(o, key, def) }

// Bool returns key as a bool or def.
func (o Options) Bool(key string, def bool) bool { return lookup(o, key, def) }

// Int returns the int value for key or def.
func (o Options) Int(key string, def int) int {
	if n, ok := o.number(key); ok {
		return int(n)
	}
	return def
}

// Int64 returns the int64 value for key or def.
func (o Options) Int64(key string, def int64) int64 {
	if n, ok := o.number(key); ok {
		return n
	}
	return def
}

func (o Options) number(key string) (int64, bool) {
	switch n := o[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<63 {
			return int64(n), true
		}
	}
	return 0, false
}

// Duration returns a duration given as a string ("30s") or as whole
// seconds, or def.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	if s, ok := o[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		return def
	}
	if n, ok := o.number(key); ok {
		return time.Duration(n) * time.Second
	}
	return def
}

// Rune returns the first rune of a non-empty string, or def. Used for
// single-character settings such as delimiters.
func (o Options) Rune(key string, def rune) rune {
	for _, r := range lookup(o, key, "") {
		return r
	}
	return def
}

// StringMap returns the string-valued entries of an object option. The
// result is never nil.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	for k, v := range lookup[map[string]any](o, key, nil) {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// StringSlice returns a list option. A lone string is a one-element list
// and non-string elements are skipped.
func (o Options) StringSlice(key string) []string {
	switch v := o[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Any returns the raw value, nil when absent.
func (o Options) Any(key string) any { return o[key] }

// Check reports keys outside allowed, so typos surface in validation.
func (o Options) Check(allowed ...string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, k := range slices.Sorted(maps.Keys(o)) {
		if _, ok := set[k]; !ok {
			return fmt.Errorf("unknown option %q", k)
		}
	}
	return nil
}

// UnmarshalJSON decodes null or an absent object as an empty map so
// callers never nil-check.
func (o *Options) UnmarshalJSON(b []byte) error {
	m := map[string]any{}
	if len(b) > 0 && string(b) != "null" {
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
	}
	*o = m
	return nil
}
