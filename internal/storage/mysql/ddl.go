package mysql

import (
	"strings"

	"pipekit/internal/storage"
)

func quoteFQN(name string) string { return storage.QuoteFQN(name, quoteIdent) }

func mapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "float", "double", "real":
		return "DOUBLE"
	case "numeric", "decimal":
		return "DECIMAL(38,10)"
	case "bool", "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "timestamp", "datetime":
		return "DATETIME(6)"
	case "json":
		return "JSON"
	default:
		return "LONGTEXT"
	}
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS with backtick
// identifiers. LONGTEXT cannot be a key without a prefix length, so string
// primary keys are declared as VARCHAR(255).
func BuildCreateTableSQL(t storage.TableDef) (string, error) {
	pk := make(map[string]bool)
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk[strings.TrimSpace(c.Name)] = true
		}
	}
	cols := make([]storage.ColumnDef, len(t.Columns))
	copy(cols, t.Columns)
	for i, c := range cols {
		if pk[strings.TrimSpace(c.Name)] && mapType(c.Type) == "LONGTEXT" {
			cols[i].Type = "varchar_key"
		}
	}
	return storage.RenderCreateTable(storage.TableDef{FQN: t.FQN, Columns: cols}, "CREATE TABLE IF NOT EXISTS", quoteIdent, func(kind string) string {
		if kind == "varchar_key" {
			return "VARCHAR(255)"
		}
		return mapType(kind)
	})
}
