// Package pipeline composes stages and runs records through them.
//
// Stages are split statically into segments: a run of streaming stages
// followed by at most one barrier stage. Records flow through a segment one
// at a time; a barrier absorbs everything that reaches it and, once input is
// exhausted, its output seeds the next segment. A pipeline without barriers
// therefore holds a single record at a time end to end.
//
// With WithWorkers(n), the streaming stages in front of the first barrier
// run on n goroutines. Results carry sequence numbers and are released in
// input order, so the output, the order of reported failures and everything
// downstream are identical to a sequential run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"pipekit/internal/errs"
	"pipekit/internal/record"
	"pipekit/internal/stage"
)

// SourceStage is the stage name reported for per-record source failures.
const SourceStage = "source"

// Item is one unit handed to Run: a record and its position in the source
// stream, or a per-record source failure (Err set, Record ignored).
type Item struct {
	Index  int64
	Record record.Record
	Err    error
}

// Observer receives per-record events in input order. Calls come from a
// single goroutine.
type Observer interface {
	RecordFailed(err *errs.RecordError)
	RecordDropped(stage string, n int64)
}

// Segment is a run of streaming stages optionally closed by a barrier.
type Segment struct {
	Streaming []stage.Stage
	Barrier   stage.BarrierStage
}

// StageStats counts what one stage saw. For a barrier, Out counts records
// emitted while flushing.
type StageStats struct {
	Name    string
	Mode    stage.Mode
	In      int64
	Out     int64
	Skipped int64
	Failed  int64
}

type counters struct {
	in, out, skipped, failed atomic.Int64
}

// node is a stage with its counters.
type node struct {
	stage.Stage
	c *counters
}

// segment is the internal form of Segment.
type segment struct {
	streaming []node
	barrier   stage.BarrierStage
	bc        *counters
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers runs the leading streaming segment on n goroutines. Values
// below 2 keep the sequential path.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// Pipeline is an ordered composition of stages. It owns its stages and runs
// once; build a new one for every run.
type Pipeline struct {
	stages   []stage.Stage
	stats    []*counters
	segments []segment
	workers  int
	ran      atomic.Bool
}

// New validates and segments stages. A pipeline with no stages is the
// identity transform.
func New(stages []stage.Stage, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	cur := segment{}
	for i, s := range stages {
		if s == nil {
			return nil, &errs.ConfigError{Path: fmt.Sprintf("stages[%d]", i), Msg: "nil stage"}
		}
		c := &counters{}
		p.stats = append(p.stats, c)
		p.stages = append(p.stages, s)
		if s.Mode() != stage.Barrier {
			cur.streaming = append(cur.streaming, node{Stage: s, c: c})
			continue
		}
		b, ok := stage.AsBarrier(s)
		if !ok {
			return nil, &errs.ConfigError{Path: fmt.Sprintf("stages[%d]", i),
				Msg: fmt.Sprintf("stage %q declares barrier mode but cannot be flushed", s.Name())}
		}
		cur.barrier, cur.bc = b, c
		p.segments = append(p.segments, cur)
		cur = segment{}
	}
	p.segments = append(p.segments, cur)
	return p, nil
}

// Stages returns the stages in declared order.
func (p *Pipeline) Stages() []stage.Stage { return append([]stage.Stage(nil), p.stages...) }

// Segments exposes the static streaming/barrier split. The last segment
// never has a barrier.
func (p *Pipeline) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	for i, seg := range p.segments {
		out[i].Barrier = seg.barrier
		for _, n := range seg.streaming {
			out[i].Streaming = append(out[i].Streaming, n.Stage)
		}
	}
	return out
}

// String renders the layout, e.g. "filter > sort[barrier] > map".
func (p *Pipeline) String() string {
	if len(p.stages) == 0 {
		return "(identity)"
	}
	var b strings.Builder
	for i, s := range p.stages {
		if i > 0 {
			b.WriteString(" > ")
		}
		b.WriteString(s.Name())
		if s.Mode() == stage.Barrier {
			b.WriteString("[barrier]")
		}
	}
	return b.String()
}

// Stats returns per-stage counters in declared order.
func (p *Pipeline) Stats() []StageStats {
	out := make([]StageStats, len(p.stages))
	for i, s := range p.stages {
		c := p.stats[i]
		out[i] = StageStats{
			Name:    s.Name(),
			Mode:    s.Mode(),
			In:      c.in.Load(),
			Out:     c.out.Load(),
			Skipped: c.skipped.Load(),
			Failed:  c.failed.Load(),
		}
	}
	return out
}

// Close releases every barrier's buffers and temporary storage.
func (p *Pipeline) Close() error {
	var errList []error
	for _, seg := range p.segments {
		if seg.barrier != nil {
			if err := seg.barrier.Close(); err != nil {
				errList = append(errList, fmt.Errorf("close %s: %w", seg.barrier.Name(), err))
			}
		}
	}
	return errors.Join(errList...)
}

// Run pulls items from next until io.EOF, pushes them through the stages
// and hands surviving records to emit in order. Per-record failures go to
// obs; Run returns the first fatal error: an error from next or emit, a
// failure in a stage marked fatal, a barrier flush failure or ctx
// cancellation (checked between records). Run does not Close the pipeline.
func (p *Pipeline) Run(ctx context.Context, next func() (Item, error), emit func(record.Record) error, obs Observer) error {
	if !p.ran.CompareAndSwap(false, true) {
		return errors.New("pipeline: already ran")
	}
	if obs == nil {
		obs = nopObserver{}
	}
	r := &run{p: p, ctx: ctx, emit: emit, obs: obs}
	var err error
	if p.workers > 1 && len(p.segments[0].streaming) > 0 {
		err = r.feedParallel(next)
	} else {
		err = r.feedSequential(next)
	}
	if err != nil {
		return err
	}
	return r.finish()
}

type nopObserver struct{}

func (nopObserver) RecordFailed(*errs.RecordError) {}
func (nopObserver) RecordDropped(string, int64)    {}

// run is the state of one execution.
type run struct {
	p    *Pipeline
	ctx  context.Context
	emit func(record.Record) error
	obs  Observer
}

func (r *run) feedSequential(next func() (Item, error)) error {
	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		it, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if it.Err != nil {
			if err := r.sourceFailed(it); err != nil {
				return err
			}
			continue
		}
		err = r.p.walk(r.ctx, r.p.segments[0].streaming, 0, it.Index, it.Record, walker{
			deliver: func(rec record.Record) error { return r.deliver(0, it.Index, rec) },
			failed:  r.failed,
			dropped: func(name string) { r.obs.RecordDropped(name, 1) },
		})
		if err != nil {
			return err
		}
	}
}

func (r *run) sourceFailed(it Item) error {
	re := &errs.RecordError{Stage: SourceStage, Index: it.Index, Err: it.Err}
	if errs.IsFatal(it.Err) {
		return re
	}
	r.obs.RecordFailed(re)
	return nil
}

// failed reports a stage failure; only failures marked errs.ErrFatal stop
// the run.
func (r *run) failed(re *errs.RecordError) error {
	if errors.Is(re.Err, errs.ErrFatal) {
		return re
	}
	r.obs.RecordFailed(re)
	return nil
}

// deliver hands rec, which left segment seg's streaming stages, to the
// segment's barrier or, for the last segment, to emit.
func (r *run) deliver(seg int, idx int64, rec record.Record) error {
	b, c := r.p.segments[seg].barrier, r.p.segments[seg].bc
	if b == nil {
		return r.emit(rec)
	}
	c.in.Add(1)
	o := b.Process(r.ctx, rec)
	switch o.Result() {
	case stage.Failed:
		c.failed.Add(1)
		return r.failed(&errs.RecordError{Stage: b.Name(), Index: idx, Err: o.Err()})
	case stage.Skipped:
		c.skipped.Add(1)
		r.obs.RecordDropped(b.Name(), 1)
	}
	return nil
}

// finish flushes barriers in order. Records a barrier emits enter the next
// segment with an index equal to their position in the barrier's output.
func (r *run) finish() error {
	for i, seg := range r.p.segments {
		if seg.barrier == nil {
			continue
		}
		next := i + 1
		c := seg.bc
		var n int64
		err := seg.barrier.Flush(r.ctx, func(rec record.Record) error {
			if err := r.ctx.Err(); err != nil {
				return err
			}
			idx := n
			n++
			c.out.Add(1)
			return r.p.walk(r.ctx, r.p.segments[next].streaming, 0, idx, rec, walker{
				deliver: func(out record.Record) error { return r.deliver(next, idx, out) },
				failed:  r.failed,
				dropped: func(name string) { r.obs.RecordDropped(name, 1) },
			})
		})
		if err != nil {
			var re *errs.RecordError
			if errors.As(err, &re) || r.ctx.Err() != nil {
				return err
			}
			return fmt.Errorf("flush %s: %w", seg.barrier.Name(), err)
		}
		if d, ok := seg.barrier.(stage.Dropper); ok {
			if dropped := d.Dropped(); dropped > 0 {
				c.skipped.Add(dropped)
				r.obs.RecordDropped(seg.barrier.Name(), dropped)
			}
		}
	}
	return nil
}

// walker receives the results of pushing one record through streaming
// stages.
type walker struct {
	deliver func(record.Record) error
	failed  func(*errs.RecordError) error
	dropped func(stage string)
}

// walk runs rec through stages[from:] and hands every surviving record to
// w.deliver. Records fanned out by a stage continue depth-first, so output
// order matches the order the stage emitted them in.
func (p *Pipeline) walk(ctx context.Context, stages []node, from int, idx int64, rec record.Record, w walker) error {
	for i := from; i < len(stages); i++ {
		s, c := stages[i], stages[i].c
		c.in.Add(1)
		o := s.Process(ctx, rec)
		switch o.Result() {
		case stage.Skipped:
			c.skipped.Add(1)
			w.dropped(s.Name())
			return nil
		case stage.Failed:
			c.failed.Add(1)
			return w.failed(&errs.RecordError{Stage: s.Name(), Index: idx, Err: o.Err()})
		}
		outs := o.Records()
		c.out.Add(int64(len(outs)))
		switch len(outs) {
		case 0:
			return nil
		case 1:
			rec = outs[0]
			continue
		}
		for _, out := range outs {
			if err := p.walk(ctx, stages, i+1, idx, out, w); err != nil {
				return err
			}
		}
		return nil
	}
	return w.deliver(rec)
}
