package postgres

import (
	"context"

	"pipekit/internal/storage"
)

// newRepository is swapped by tests to avoid a live database.
var newRepository = NewRepository

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, err
		}
		return storage.WithClose(r, closeFn), nil
	})
	storage.RegisterDDL("postgres", BuildCreateTableSQL)
}
