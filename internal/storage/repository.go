// Package storage defines the backend-agnostic repository the db sink
// writes through, a registry of backend factories, a generic table model
// for CREATE TABLE bootstrapping and a synchronous batcher.
//
// Backends register themselves from init; import storage/all to link every
// built-in backend.
package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Repository is the write surface every backend provides.
type Repository interface {
	// CopyFrom bulk-inserts rows aligned to columns and reports how many
	// rows the backend accepted.
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)
	// Exec runs a single statement, typically DDL.
	Exec(ctx context.Context, sql string) error
	// Close releases the connection pool.
	Close()
}

// Writer is what a backend package implements; the pool behind it is
// released by the func its constructor returns.
type Writer interface {
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)
	Exec(ctx context.Context, sql string) error
}

// WithClose pairs w with the func that releases it.
func WithClose(w Writer, closeFn func()) Repository {
	return &closingRepo{Writer: w, closeFn: closeFn}
}

type closingRepo struct {
	Writer
	closeFn func()
}

func (c *closingRepo) Close() {
	if c.closeFn != nil {
		c.closeFn()
		c.closeFn = nil
	}
}

// Config selects and configures a backend.
type Config struct {
	Kind    string // "sqlite", "postgres", "mssql", "mysql"
	DSN     string
	Table   string
	Columns []string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a repository of cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
