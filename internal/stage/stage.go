// Package stage defines the contract every pipeline step implements and the
// built-in steps pipekit ships with.
//
// A stage consumes one record and reports an Outcome: Emit (zero or more
// records), Skip (the record is dropped on purpose) or Fail (the record is
// dropped and the failure is reported). Streaming stages answer per record.
// Barrier stages absorb their whole input and only produce output when the
// pipeline flushes them at end of input.
package stage

import (
	"context"
	"errors"
	"fmt"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// Mode tells the pipeline whether a stage needs to see its whole input
// before emitting.
type Mode uint8

const (
	// Streaming stages handle each record independently. They must be safe
	// for concurrent use when the pipeline runs with several workers.
	Streaming Mode = iota
	// Barrier stages buffer every record they receive and emit on Flush.
	Barrier
)

func (m Mode) String() string {
	if m == Barrier {
		return "barrier"
	}
	return "streaming"
}

// Result classifies an Outcome.
type Result uint8

const (
	Emitted Result = iota
	Skipped
	Failed
)

// Outcome is the result of processing one record.
type Outcome struct {
	result  Result
	records []record.Record
	err     error
}

// Emit passes records downstream. Emit with no records means the record was
// consumed without output (a barrier absorbing it); it is not a drop.
func Emit(recs ...record.Record) Outcome {
	return Outcome{result: Emitted, records: recs}
}

// Skip drops the record deliberately, e.g. a filter that did not match.
func Skip() Outcome { return Outcome{result: Skipped} }

// Fail drops the record and reports err.
func Fail(err error) Outcome {
	if err == nil {
		err = errors.New("stage failed without an error")
	}
	return Outcome{result: Failed, err: err}
}

// Result reports which kind of outcome o is.
func (o Outcome) Result() Result { return o.result }

// Records returns the emitted records; nil unless Result is Emitted.
func (o Outcome) Records() []record.Record { return o.records }

// Err returns the failure; nil unless Result is Failed.
func (o Outcome) Err() error { return o.err }

// Stage is a single transformation step.
type Stage interface {
	Name() string
	Mode() Mode
	Process(ctx context.Context, r record.Record) Outcome
}

// BarrierStage is a stage that must observe its entire input before
// emitting. Process absorbs records; Flush emits the result sequence once
// input is exhausted; Close releases buffers and temporary storage and is
// safe to call whether or not Flush ran.
type BarrierStage interface {
	Stage
	Flush(ctx context.Context, emit func(record.Record) error) error
	Close() error
}

// Dropper is implemented by barrier stages that discard records while
// flushing (duplicates, for instance). Dropped is read after Flush returns.
type Dropper interface {
	Dropped() int64
}

// AsBarrier returns s as a BarrierStage when its Mode is Barrier.
func AsBarrier(s Stage) (BarrierStage, bool) {
	if s.Mode() != Barrier {
		return nil, false
	}
	b, ok := s.(BarrierStage)
	return b, ok
}

// Func adapts a plain function into a streaming stage.
func Func(name string, fn func(ctx context.Context, r record.Record) Outcome) Stage {
	return funcStage{name: name, fn: fn}
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, r record.Record) Outcome
}

func (f funcStage) Name() string { return f.name }
func (f funcStage) Mode() Mode   { return Streaming }
func (f funcStage) Process(ctx context.Context, r record.Record) Outcome {
	return f.fn(ctx, r)
}

// Fatal wraps s so that any Fail outcome aborts the run instead of being
// recorded and skipped. The failure is marked with errs.ErrFatal.
func Fatal(s Stage) Stage {
	if b, ok := AsBarrier(s); ok {
		return fatalBarrier{BarrierStage: b}
	}
	return fatalStage{Stage: s}
}

// IsFatal reports whether s was wrapped by Fatal.
func IsFatal(s Stage) bool {
	switch s.(type) {
	case fatalStage, fatalBarrier:
		return true
	}
	return false
}

type fatalStage struct{ Stage }

func (f fatalStage) Process(ctx context.Context, r record.Record) Outcome {
	return markFatal(f.Stage.Process(ctx, r))
}

type fatalBarrier struct{ BarrierStage }

func (f fatalBarrier) Process(ctx context.Context, r record.Record) Outcome {
	return markFatal(f.BarrierStage.Process(ctx, r))
}

func (f fatalBarrier) Dropped() int64 {
	if d, ok := f.BarrierStage.(Dropper); ok {
		return d.Dropped()
	}
	return 0
}

// Spilled passes through the wrapped stage's spill count.
func (f fatalBarrier) Spilled() int {
	if s, ok := f.BarrierStage.(interface{ Spilled() int }); ok {
		return s.Spilled()
	}
	return 0
}

func markFatal(o Outcome) Outcome {
	if o.result != Failed || errors.Is(o.err, errs.ErrFatal) {
		return o
	}
	o.err = fmt.Errorf("%w: %w", errs.ErrFatal, o.err)
	return o
}
