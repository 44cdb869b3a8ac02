package storage

import (
	"encoding/json"

	"pipekit/internal/record"
)

// Row projects r onto cols as driver values. Missing fields and nulls
// become nil; lists and nested records are stored as JSON text.
func Row(r record.Record, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		v, ok := r.Lookup(c)
		if !ok {
			continue
		}
		out[i] = Value(v)
	}
	return out
}

// Value converts one record value to a database/sql compatible value.
func Value(v record.Value) any {
	switch v.Kind() {
	case record.KindBool:
		b, _ := v.AsBool()
		return b
	case record.KindInt:
		n, _ := v.AsInt()
		return n
	case record.KindFloat:
		f, _ := v.AsFloat()
		return f
	case record.KindString:
		s, _ := v.AsString()
		return s
	case record.KindList, record.KindRecord:
		b, err := json.Marshal(v)
		if err != nil {
			return v.String()
		}
		return string(b)
	}
	return nil
}
