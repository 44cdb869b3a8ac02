// Package mysql implements a MySQL/MariaDB storage.Repository on top of
// database/sql and go-sql-driver/mysql. Rows are written as multi-row
// INSERT statements inside one transaction per batch.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// maxPlaceholders is the server-side limit on bound parameters per
// prepared statement.
const maxPlaceholders = 65535

// Config holds MySQL repository configuration.
type Config struct {
	// DSN uses the driver's format, e.g. "user:pass@tcp(127.0.0.1:3306)/db".
	DSN   string
	Table string
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db        *sql.DB
	cfg       Config
	maxParams int
}

// NewRepository validates the DSN, opens a pool and pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("mysql: table must not be empty")
	}
	dc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if dc.DBName == "" && !strings.Contains(cfg.Table, ".") {
		return nil, nil, fmt.Errorf("mysql: DSN has no database and table %q is unqualified", cfg.Table)
	}
	connector, err := mysql.NewConnector(dc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// CopyFrom inserts rows with as few statements as the placeholder limit
// allows. All statements share a transaction; the count is zero on error.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mysql: CopyFrom: columns must not be empty")
	}
	limit := r.maxParams
	if limit <= 0 {
		limit = maxPlaceholders
	}
	perStmt := limit / len(columns)
	if perStmt < 1 {
		return 0, fmt.Errorf("mysql: %d columns exceed the placeholder limit", len(columns))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		chunk := rows[start:end]
		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if len(row) != len(columns) {
				_ = tx.Rollback()
				return 0, fmt.Errorf("mysql: row %d has %d values, want %d", start+i, len(row), len(columns))
			}
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, insertSQL(r.cfg.Table, columns, len(chunk)), args...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert rows %d-%d: %w", start, end-1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int64(len(rows)), nil
}

// Exec runs one statement, typically DDL.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("mysql: exec: %w", err)
	}
	return nil
}

func insertSQL(table string, columns []string, rows int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteFQN(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}

func quoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}
