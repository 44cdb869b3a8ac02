package sink

import (
	"context"
	"fmt"
	"log/slog"

	"pipekit/internal/record"
	"pipekit/internal/storage"
)

// DefaultBatchSize is the number of rows per CopyFrom when none is set.
const DefaultBatchSize = 5000

// DBOptions configures a table sink backed by a storage.Repository.
type DBOptions struct {
	Kind  string
	DSN   string
	Table string
	// Columns fixes the target columns. Empty takes the field names seen in
	// the first records, in first-seen order.
	Columns []string
	// KeyColumns become the primary key when the table is created.
	KeyColumns []string
	BatchSize  int
	// AutoCreate issues CREATE TABLE IF NOT EXISTS before the first batch,
	// with column types from TypeHints or inferred from the first
	// SampleSize records.
	AutoCreate bool
	TypeHints  map[string]string
	SampleSize int
}

// DBSink loads records into a SQL table in batches. Records are buffered
// until the column set is known, then handed to a storage.Batcher.
type DBSink struct {
	repo storage.Repository
	opts DBOptions
	log  *slog.Logger

	columns []string
	sample  []record.Record
	batcher *storage.Batcher
}

var openRepository = storage.New

// OpenDB connects to the configured backend.
func OpenDB(ctx context.Context, opts DBOptions, log *slog.Logger) (*DBSink, error) {
	repo, err := openRepository(ctx, storage.Config{
		Kind:    opts.Kind,
		DSN:     opts.DSN,
		Table:   opts.Table,
		Columns: opts.Columns,
	})
	if err != nil {
		return nil, err
	}
	return NewDB(repo, opts, log), nil
}

// NewDB wraps an open repository. The sink owns repo and closes it.
func NewDB(repo storage.Repository, opts DBOptions, log *slog.Logger) *DBSink {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &DBSink{repo: repo, opts: opts, log: log, columns: opts.Columns}
}

func (s *DBSink) Write(ctx context.Context, r record.Record) error {
	if s.batcher != nil {
		return s.batcher.Add(ctx, storage.Row(r, s.columns))
	}
	s.sample = append(s.sample, r)
	if len(s.sample) < s.opts.SampleSize {
		return nil
	}
	return s.start(ctx)
}

// start fixes the columns, creates the table if asked and replays the
// buffered sample into the batcher.
func (s *DBSink) start(ctx context.Context) error {
	if len(s.columns) == 0 {
		s.columns = unionNames(s.sample)
	}
	if len(s.columns) == 0 {
		return fmt.Errorf("db sink: no columns to write")
	}
	if s.opts.AutoCreate {
		td, err := storage.InferTable(s.opts.Table, s.columns, s.opts.KeyColumns, s.opts.TypeHints, s.sample)
		if err != nil {
			return err
		}
		if err := storage.EnsureTable(ctx, s.opts.Kind, s.repo, td); err != nil {
			return err
		}
		s.log.Info("db sink: table ready", "table", s.opts.Table, "columns", len(td.Columns))
	}
	b, err := storage.NewBatcher(s.columns, s.opts.BatchSize, s.repo.CopyFrom, s.log)
	if err != nil {
		return err
	}
	s.batcher = b
	sample := s.sample
	s.sample = nil
	for _, r := range sample {
		if err := b.Add(ctx, storage.Row(r, s.columns)); err != nil {
			return err
		}
	}
	return nil
}

func (s *DBSink) Flush(ctx context.Context) error {
	if s.batcher == nil {
		if len(s.sample) == 0 {
			return nil
		}
		if err := s.start(ctx); err != nil {
			return err
		}
	}
	return s.batcher.Flush(ctx)
}

// Uncommitted counts records accepted but not confirmed by the database.
func (s *DBSink) Uncommitted() int {
	n := len(s.sample)
	if s.batcher != nil {
		n += s.batcher.Pending()
	}
	return n
}

// Committed reports rows the database confirmed.
func (s *DBSink) Committed() int64 {
	if s.batcher == nil {
		return 0
	}
	return s.batcher.Total()
}

func (s *DBSink) Close() error {
	s.repo.Close()
	return nil
}

func unionNames(recs []record.Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		for _, n := range r.Names() {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}
