package postgres

import (
	"strings"

	"pipekit/internal/storage"
)

// quoteIdent quotes a single identifier segment, e.g. weird"name becomes
// "weird""name".
func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// mapType maps logical column types to Postgres types.
func mapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "float", "double", "real":
		return "DOUBLE PRECISION"
	case "numeric", "decimal":
		return "NUMERIC"
	case "bool", "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "timestamp", "timestamptz", "datetime":
		return "TIMESTAMPTZ"
	case "json":
		return "JSONB"
	default:
		return "TEXT"
	}
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS with
// double-quoted identifiers. Primary-key columns are always NOT NULL.
func BuildCreateTableSQL(t storage.TableDef) (string, error) {
	return storage.RenderCreateTable(t, "CREATE TABLE IF NOT EXISTS", quoteIdent, mapType)
}
