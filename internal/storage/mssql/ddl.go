package mssql

import (
	"strings"

	"pipekit/internal/storage"
)

func mapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "float", "double", "real":
		return "FLOAT"
	case "numeric", "decimal":
		return "DECIMAL(38,10)"
	case "bool", "boolean":
		return "BIT"
	case "date":
		return "DATE"
	case "timestamp", "datetime":
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

// BuildCreateTableSQL renders a guarded CREATE TABLE; SQL Server has no
// IF NOT EXISTS clause for tables.
func BuildCreateTableSQL(t storage.TableDef) (string, error) {
	lit := strings.ReplaceAll(storage.QuoteFQN(t.FQN, quoteIdent), "'", "''")
	head := "IF OBJECT_ID(N'" + lit + "', N'U') IS NULL CREATE TABLE"
	return storage.RenderCreateTable(t, head, quoteIdent, mapType)
}
