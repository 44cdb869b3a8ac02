package sorter

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"pipekit/internal/errs"
	"pipekit/internal/record"
	"pipekit/internal/spill"
	"pipekit/internal/stage"
)

const (
	// DefaultMemoryRecords is the chunk size used when none is configured.
	DefaultMemoryRecords = 100_000
	// DefaultMemoryBytes bounds the approximate size of one in-memory chunk.
	DefaultMemoryBytes = 64 << 20
)

// Options configures a Sorter.
type Options struct {
	Keys     []Key
	Schema   []string
	FoldCase bool
	// Unique drops records whose keys all compare equal to the previous
	// record's, keeping the first of each run.
	Unique bool

	// MemoryRecords and MemoryBytes bound the in-memory chunk; whichever
	// is reached first triggers a spill. Zero selects the defaults; a
	// negative value disables that bound.
	MemoryRecords int
	MemoryBytes   int64

	// Spill configures the temporary chunk store, created on first spill.
	Spill spill.Options
	// SpillWorkers bounds concurrent chunk writers (default 2). Each holds
	// one chunk in memory while it sorts and writes it.
	SpillWorkers int

	Logger *slog.Logger
}

// Sorter is the sort barrier stage. Process and Flush must be called from a
// single goroutine; chunk spilling runs on background workers.
type Sorter struct {
	name string
	cmp  *Comparator
	opts Options
	log  *slog.Logger

	buf      []record.Record
	bufBytes int64

	store  *spill.Store
	group  *errgroup.Group
	gctx   context.Context
	chunks []*chunkRun

	dropped int64
}

type chunkRun struct {
	info spill.Chunk
}

// New builds a sort stage. Key problems are reported as *errs.ConfigError
// wrapping errs.ErrInvalidSortKey.
func New(name string, opts Options) (*Sorter, error) {
	cmp, err := NewComparator(opts.Keys, CompareOptions{Schema: opts.Schema, FoldCase: opts.FoldCase})
	if err != nil {
		return nil, err
	}
	if opts.MemoryRecords == 0 {
		opts.MemoryRecords = DefaultMemoryRecords
	}
	if opts.MemoryBytes == 0 {
		opts.MemoryBytes = DefaultMemoryBytes
	}
	if opts.SpillWorkers <= 0 {
		opts.SpillWorkers = 2
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Spill.Logger == nil {
		opts.Spill.Logger = log
	}
	if name == "" {
		name = "sort"
	}
	return &Sorter{name: name, cmp: cmp, opts: opts, log: log}, nil
}

func (s *Sorter) Name() string     { return s.name }
func (s *Sorter) Mode() stage.Mode { return stage.Barrier }

// Comparator exposes the compiled key order.
func (s *Sorter) Comparator() *Comparator { return s.cmp }

// Spilled reports how many chunks went to disk.
func (s *Sorter) Spilled() int { return len(s.chunks) }

// Dropped reports duplicates removed by the Unique option.
func (s *Sorter) Dropped() int64 { return s.dropped }

// Process buffers r and hands the buffer to a spill worker once it reaches
// the memory threshold. A failed spill aborts the run.
func (s *Sorter) Process(ctx context.Context, r record.Record) stage.Outcome {
	if s.gctx != nil && s.gctx.Err() != nil {
		return stage.Fail(fmt.Errorf("%w: %w", errs.ErrFatal, context.Cause(s.gctx)))
	}
	s.buf = append(s.buf, r)
	s.bufBytes += int64(r.Size())
	if s.full() {
		if err := s.spill(ctx); err != nil {
			return stage.Fail(fmt.Errorf("%w: %w", errs.ErrFatal, err))
		}
	}
	return stage.Emit()
}

func (s *Sorter) full() bool {
	if s.opts.MemoryRecords > 0 && len(s.buf) >= s.opts.MemoryRecords {
		return true
	}
	return s.opts.MemoryBytes > 0 && s.bufBytes >= s.opts.MemoryBytes
}

// spill sorts and writes the current buffer in the background. Chunks are
// numbered in input order; the merge relies on that for stability.
func (s *Sorter) spill(ctx context.Context) error {
	if s.store == nil {
		store, err := spill.NewStore(s.opts.Spill)
		if err != nil {
			return err
		}
		s.store = store
		s.group, s.gctx = errgroup.WithContext(ctx)
		s.group.SetLimit(s.opts.SpillWorkers)
	}
	chunk := s.buf
	s.buf = make([]record.Record, 0, len(chunk))
	s.bufBytes = 0

	run := &chunkRun{}
	s.chunks = append(s.chunks, run)
	index := len(s.chunks) - 1
	store, cmp, log := s.store, s.cmp, s.log
	s.group.Go(func() error {
		start := time.Now()
		slices.SortStableFunc(chunk, cmp.Compare)
		w, err := store.Create()
		if err != nil {
			return err
		}
		for _, r := range chunk {
			if err := w.Write(r); err != nil {
				_ = w.Close()
				return err
			}
		}
		if err := w.Close(); err != nil {
			return err
		}
		run.info = w.Info()
		log.Debug("sort: chunk spilled",
			"chunk", index,
			"records", run.info.Records,
			"raw", humanize.Bytes(uint64(run.info.RawBytes)),
			"disk", humanize.Bytes(uint64(run.info.DiskBytes)),
			"took", time.Since(start).Round(time.Millisecond))
		return nil
	})
	return nil
}

// Flush emits the sorted sequence. Without spills this is a plain in-memory
// stable sort; otherwise it waits for every chunk to be fully written and
// k-way merges the chunks with the sorted in-memory tail.
func (s *Sorter) Flush(ctx context.Context, emit func(record.Record) error) error {
	tail := s.buf
	s.buf = nil
	slices.SortStableFunc(tail, s.cmp.Compare)

	if s.group == nil {
		return s.emitFrom(ctx, &sliceCursor{recs: tail}, emit)
	}
	if err := s.group.Wait(); err != nil {
		return err
	}

	cursors := make([]cursor, 0, len(s.chunks)+1)
	defer func() {
		for _, c := range cursors {
			_ = c.close()
		}
	}()
	for _, run := range s.chunks {
		rd, err := s.store.Open(run.info.Name)
		if err != nil {
			return err
		}
		cursors = append(cursors, &chunkCursor{rd: rd})
	}
	if len(tail) > 0 {
		cursors = append(cursors, &sliceCursor{recs: tail})
	}
	s.log.Debug("sort: merging", "chunks", len(s.chunks), "tail", len(tail))

	m, err := newMerger(cursors, s.cmp.Compare)
	if err != nil {
		return err
	}
	return s.emitFrom(ctx, m, emit)
}

func (s *Sorter) emitFrom(ctx context.Context, c cursor, emit func(record.Record) error) error {
	var (
		prev    record.Record
		hasPrev bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := c.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.opts.Unique && hasPrev && s.cmp.Compare(prev, r) == 0 {
			s.dropped++
			continue
		}
		prev, hasPrev = r, true
		if err := emit(r); err != nil {
			return err
		}
	}
}

// Close waits for background writers and removes the spill namespace.
func (s *Sorter) Close() error {
	s.buf = nil
	if s.group != nil {
		_ = s.group.Wait()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// cursor yields records in order and io.EOF at the end.
type cursor interface {
	next() (record.Record, error)
	close() error
}

type sliceCursor struct {
	recs []record.Record
	pos  int
}

func (c *sliceCursor) next() (record.Record, error) {
	if c.pos >= len(c.recs) {
		return record.Record{}, io.EOF
	}
	r := c.recs[c.pos]
	c.recs[c.pos] = record.Record{}
	c.pos++
	return r, nil
}

func (c *sliceCursor) close() error { c.recs = nil; return nil }

type chunkCursor struct{ rd *spill.Reader }

func (c *chunkCursor) next() (record.Record, error) { return c.rd.Next() }
func (c *chunkCursor) close() error                 { return c.rd.Close() }

// merger is a k-way merge over cursors. The heap holds cursor indices; ties
// on the comparator go to the lower index, i.e. the earlier chunk, which
// keeps the merge stable.
type merger struct {
	cursors []cursor
	heads   []record.Record
	order   []int
	cmp     func(a, b record.Record) int
}

func newMerger(cursors []cursor, cmp func(a, b record.Record) int) (*merger, error) {
	m := &merger{cursors: cursors, heads: make([]record.Record, len(cursors)), cmp: cmp}
	for i, c := range cursors {
		r, err := c.next()
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.heads[i] = r
		m.order = append(m.order, i)
	}
	heap.Init(m)
	return m, nil
}

func (m *merger) Len() int { return len(m.order) }

func (m *merger) Less(i, j int) bool {
	a, b := m.order[i], m.order[j]
	if c := m.cmp(m.heads[a], m.heads[b]); c != 0 {
		return c < 0
	}
	return a < b
}

func (m *merger) Swap(i, j int) { m.order[i], m.order[j] = m.order[j], m.order[i] }

func (m *merger) Push(x any) { m.order = append(m.order, x.(int)) }

func (m *merger) Pop() any {
	n := len(m.order)
	x := m.order[n-1]
	m.order = m.order[:n-1]
	return x
}

func (m *merger) next() (record.Record, error) {
	if len(m.order) == 0 {
		return record.Record{}, io.EOF
	}
	i := m.order[0]
	out := m.heads[i]
	r, err := m.cursors[i].next()
	switch {
	case errors.Is(err, io.EOF):
		m.heads[i] = record.Record{}
		heap.Pop(m)
	case err != nil:
		return record.Record{}, err
	default:
		m.heads[i] = r
		heap.Fix(m, 0)
	}
	return out, nil
}

func (m *merger) close() error { return nil }
