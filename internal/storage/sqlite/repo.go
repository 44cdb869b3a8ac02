// Package sqlite registers the "sqlite" storage kind on top of the pure-Go
// modernc driver. SQLite has no bulk-load API,
// so CopyFrom runs a prepared INSERT per row inside one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pipekit/internal/storage"
)

// Config is the sqlite view of storage.Config.
type Config struct {
	// DSN is a file path or connection string, e.g. "out.db" or
	// "file:out.db?_pragma=busy_timeout(5000)".
	DSN string
	// Table is the target table; "main.events" style names are accepted.
	Table string
}

// Repository writes rows through a single database/sql connection.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens and pings the database and returns a Repository plus
// a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	switch {
	case strings.TrimSpace(cfg.DSN) == "":
		return nil, nil, errors.New("sqlite: dsn is required")
	case strings.TrimSpace(cfg.Table) == "":
		return nil, nil, errors.New("sqlite: table is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases exist per connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// CopyFrom inserts rows in one transaction; on error nothing is committed
// and the count is zero.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (n int64, err error) {
	if len(columns) == 0 {
		return 0, errors.New("sqlite: no columns to insert")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL(r.cfg.Table, columns))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		if w := len(rows[i]); w != len(columns) {
			return 0, fmt.Errorf("sqlite: row %d: %d values for %d columns", i, w, len(columns))
		}
		if _, err = stmt.ExecContext(ctx, rows[i]...); err != nil {
			return 0, fmt.Errorf("sqlite: row %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return int64(len(rows)), nil
}

// Exec runs one statement, typically DDL.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

func insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		storage.QuoteFQN(table, quoteIdent), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// mapType maps logical column types to SQLite affinities. Booleans are
// stored as 0/1, dates and nested values as text.
func mapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint", "bool", "boolean":
		return "INTEGER"
	case "float", "double", "real":
		return "REAL"
	case "numeric", "decimal":
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS with
// double-quoted identifiers.
func BuildCreateTableSQL(t storage.TableDef) (string, error) {
	return storage.RenderCreateTable(t, "CREATE TABLE IF NOT EXISTS", quoteIdent, mapType)
}
