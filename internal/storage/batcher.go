package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// CopyFn abstracts a backend's bulk insert; Repository.CopyFrom satisfies
// it. It should cancel promptly when ctx is done.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// Batcher groups rows into batches of a fixed size and hands each full
// batch to a CopyFn. A batch whose copy fails stays pending, so Pending
// always counts rows the backend has not confirmed.
//
// Every successful flush logs running totals and the insert rate since the
// previous flush.
type Batcher struct {
	columns []string
	size    int
	copyFn  CopyFn
	log     *slog.Logger

	batch     [][]any
	total     int64
	batches   int64
	start     time.Time
	lastFlush time.Time
	lastTotal int64
}

// NewBatcher validates its arguments. A nil logger uses slog.Default.
func NewBatcher(columns []string, size int, copyFn CopyFn, log *slog.Logger) (*Batcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if copyFn == nil {
		return nil, fmt.Errorf("copyFn must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	now := time.Now()
	return &Batcher{
		columns:   columns,
		size:      size,
		copyFn:    copyFn,
		log:       log,
		batch:     make([][]any, 0, size),
		start:     now,
		lastFlush: now,
	}, nil
}

// Add queues row and flushes when the batch is full.
func (b *Batcher) Add(ctx context.Context, row []any) error {
	if len(row) != len(b.columns) {
		return fmt.Errorf("row has %d values, want %d", len(row), len(b.columns))
	}
	b.batch = append(b.batch, row)
	if len(b.batch) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush copies the pending rows, if any.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := b.copyFn(ctx, b.columns, b.batch)
	if err != nil {
		b.log.Warn("loader: copy failed", "batch", b.batches+1, "rows", len(b.batch), "total", b.total, "err", err)
		return err
	}
	b.total += n
	b.batches++
	b.batch = b.batch[:0]

	now := time.Now()
	since := now.Sub(b.lastFlush)
	rps := float64(0)
	if since > 0 {
		rps = float64(b.total-b.lastTotal) / since.Seconds()
	}
	b.log.Debug("loader: batch committed",
		"batch", b.batches,
		"inserted", n,
		"total", humanize.Comma(b.total),
		"rps", int64(rps),
		"elapsed", now.Sub(b.start).Truncate(time.Millisecond),
	)
	b.lastFlush, b.lastTotal = now, b.total
	return nil
}

// Pending reports rows added but not yet committed.
func (b *Batcher) Pending() int { return len(b.batch) }

// Total reports rows the backend confirmed.
func (b *Batcher) Total() int64 { return b.total }
