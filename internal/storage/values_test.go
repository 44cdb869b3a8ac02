package storage

import (
	"reflect"
	"testing"

	"pipekit/internal/record"
)

func TestRowProjectsColumns(t *testing.T) {
	t.Parallel()

	inner := record.MustNew(record.F("k", record.String("v")))
	r := record.MustNew(
		record.F("b", record.Bool(true)),
		record.F("i", record.Int(7)),
		record.F("f", record.Float(1.5)),
		record.F("s", record.String("x")),
		record.F("l", record.List(record.Int(1), record.Null())),
		record.F("r", record.Nested(inner)),
		record.F("n", record.Null()),
	)
	got := Row(r, []string{"s", "i", "missing", "b", "f", "l", "r", "n"})
	want := []any{"x", int64(7), nil, true, 1.5, "[1,null]", `{"k":"v"}`, nil}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Row = %#v, want %#v", got, want)
	}
}
