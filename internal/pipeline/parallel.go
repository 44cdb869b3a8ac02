package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

type job struct {
	seq  int64
	item Item
}

// headResult is what one item produced in the leading streaming segment.
// Events are replayed on the collector in the order they happened.
type headResult struct {
	seq    int64
	index  int64
	srcErr error
	events []event
	fatal  error
}

// event is exactly one of an output record, a failure or a drop.
type event struct {
	out     *record.Record
	failed  *errs.RecordError
	dropped string
}

// feedParallel runs segment 0's streaming stages on p.workers goroutines.
// A single reader goroutine calls next; results are reassembled in input
// order on the calling goroutine before reaching the barrier or emit.
// At most 2*workers items are between next and release at any time, so a
// slow record stalls the source instead of growing the reorder buffer.
func (r *run) feedParallel(next func() (Item, error)) error {
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	n := r.p.workers
	jobs := make(chan job, n*2)
	results := make(chan headResult, n*2)
	inflight := make(chan struct{}, n*2)

	g.Go(func() error {
		defer close(jobs)
		for seq := int64(0); ; seq++ {
			select {
			case inflight <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			it, err := next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case jobs <- job{seq: seq, item: it}:
			case <-gctx.Done():
				return nil
			}
		}
	})

	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				res := r.head(gctx, j)
				select {
				case results <- res:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		pending = make(map[int64]headResult)
		want    int64
		stopErr error
	)
	for res := range results {
		if stopErr != nil {
			continue
		}
		pending[res.seq] = res
		for {
			p, ok := pending[want]
			if !ok {
				break
			}
			delete(pending, want)
			want++
			<-inflight
			if err := r.release(p); err != nil {
				stopErr = err
				cancel()
				break
			}
		}
	}
	gerr := g.Wait()
	if stopErr != nil {
		return stopErr
	}
	if gerr != nil {
		return gerr
	}
	return r.ctx.Err()
}

// head pushes one item through the leading streaming stages without
// touching shared run state.
func (r *run) head(ctx context.Context, j job) headResult {
	res := headResult{seq: j.seq, index: j.item.Index}
	if j.item.Err != nil {
		res.srcErr = j.item.Err
		return res
	}
	res.fatal = r.p.walk(ctx, r.p.segments[0].streaming, 0, j.item.Index, j.item.Record, walker{
		deliver: func(rec record.Record) error {
			res.events = append(res.events, event{out: &rec})
			return nil
		},
		failed: func(re *errs.RecordError) error {
			if errors.Is(re.Err, errs.ErrFatal) {
				return re
			}
			res.events = append(res.events, event{failed: re})
			return nil
		},
		dropped: func(name string) {
			res.events = append(res.events, event{dropped: name})
		},
	})
	return res
}

// release applies one in-order result on the collector goroutine.
func (r *run) release(res headResult) error {
	if res.srcErr != nil {
		return r.sourceFailed(Item{Index: res.index, Err: res.srcErr})
	}
	for _, ev := range res.events {
		switch {
		case ev.out != nil:
			if err := r.deliver(0, res.index, *ev.out); err != nil {
				return err
			}
		case ev.failed != nil:
			r.obs.RecordFailed(ev.failed)
		default:
			r.obs.RecordDropped(ev.dropped, 1)
		}
	}
	return res.fatal
}
