package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pipekit/internal/record"
)

// ColumnDef describes one column. Type is a logical type ("int", "float",
// "bool", "string", "date", "timestamp", "json"); each backend maps it to a
// SQL type when rendering.
type ColumnDef struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// TableDef is a table name (possibly schema-qualified, "schema.table") and
// its ordered columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// DDLBuilder renders a dialect CREATE TABLE statement that is a no-op when
// the table already exists.
type DDLBuilder func(t TableDef) (string, error)

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBuilder{}
)

// RegisterDDL installs the DDL builder for a storage kind.
func RegisterDDL(kind string, fn DDLBuilder) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// BuildCreateTable renders t in the dialect of kind.
func BuildCreateTable(kind string, t TableDef) (string, error) {
	ddlMu.RLock()
	fn, ok := ddlFns[kind]
	ddlMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no DDL builder registered for storage.kind=%q", kind)
	}
	return fn(t)
}

// EnsureTable creates t through repo unless it exists.
func EnsureTable(ctx context.Context, kind string, repo Repository, t TableDef) error {
	stmt, err := BuildCreateTable(kind, t)
	if err != nil {
		return err
	}
	if err := repo.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", t.FQN, err)
	}
	return nil
}

// InferTable derives column types for cols from hints (logical types by
// column name, for example collected from coerce stages) and, for columns
// without a hint, from the values in sample. Columns listed in keys become
// the primary key.
func InferTable(fqn string, cols, keys []string, hints map[string]string, sample []record.Record) (TableDef, error) {
	if strings.TrimSpace(fqn) == "" {
		return TableDef{}, fmt.Errorf("ddl: missing table")
	}
	if len(cols) == 0 {
		return TableDef{}, fmt.Errorf("ddl: no columns for %s", fqn)
	}
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	defs := make([]ColumnDef, len(cols))
	for i, name := range cols {
		typ := hints[name]
		if typ == "" {
			typ = sampleType(name, sample)
		}
		defs[i] = ColumnDef{Name: name, Type: typ, Nullable: !isKey[name], PrimaryKey: isKey[name]}
	}
	return TableDef{FQN: fqn, Columns: defs}, nil
}

// sampleType widens the kinds seen for name: ints and floats give float,
// any other mix gives string, all-null gives string.
func sampleType(name string, sample []record.Record) string {
	seen := ""
	for _, r := range sample {
		v, ok := r.Lookup(name)
		if !ok || v.IsNull() {
			continue
		}
		t := logicalType(v.Kind())
		switch {
		case seen == "" || seen == t:
			seen = t
		case (seen == "int" && t == "float") || (seen == "float" && t == "int"):
			seen = "float"
		default:
			return "string"
		}
	}
	if seen == "" {
		return "string"
	}
	return seen
}

func logicalType(k record.Kind) string {
	switch k {
	case record.KindBool:
		return "bool"
	case record.KindInt:
		return "int"
	case record.KindFloat:
		return "float"
	case record.KindList, record.KindRecord:
		return "json"
	default:
		return "string"
	}
}

// RenderCreateTable is the shared CREATE TABLE layout. quote escapes one
// identifier segment, mapType maps logical types, and head is the
// statement prefix up to the table name ("CREATE TABLE IF NOT EXISTS").
func RenderCreateTable(t TableDef, head string, quote func(string) string, mapType func(string) string) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}
	cols := make([]string, 0, len(t.Columns)+1)
	var pks []string
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		def := quote(name) + " " + mapType(c.Type)
		if !c.Nullable || c.PrimaryKey {
			def += " NOT NULL"
		}
		cols = append(cols, def)
		if c.PrimaryKey {
			pks = append(pks, quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	return fmt.Sprintf("%s %s (\n  %s\n)", head, QuoteFQN(fqn, quote), strings.Join(cols, ",\n  ")), nil
}

// QuoteFQN quotes each dotted segment of name with quote, dropping empty
// segments.
func QuoteFQN(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, quote(p))
		}
	}
	return strings.Join(out, ".")
}
