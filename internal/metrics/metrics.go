// Package metrics records run, record and stage counts for pipeline runs.
//
// Callers use the package-level Record helpers. They forward to a single
// process-wide Backend, which discards everything until one of the
// subpackages (prompush, datadog) is installed with SetBackend.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metric names. Backends may rewrite the "pipekit_" prefix.
const (
	RunsTotal          = "pipekit_runs_total"
	RunDurationSeconds = "pipekit_run_duration_seconds"
	RecordsTotal       = "pipekit_records_total"
	StageTotal         = "pipekit_stage_total"
	SpillChunksTotal   = "pipekit_spill_chunks_total"
)

// Labels are attached to a single sample.
type Labels map[string]string

// Backend receives samples. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush delivers buffered samples; push-based backends send here.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

// Nop returns the default backend.
func Nop() Backend { return nopBackend{} }

type holder struct{ b Backend }

var active atomic.Pointer[holder]

func init() { active.Store(&holder{b: nopBackend{}}) }

// SetBackend replaces the process-wide backend. A nil b is ignored.
func SetBackend(b Backend) {
	if b != nil {
		active.Store(&holder{b: b})
	}
}

func current() Backend { return active.Load().b }

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordRun counts a finished run and observes its duration. The status
// label is "success" or "failure".
func RecordRun(job string, err error, d time.Duration) {
	l := Labels{"job": job, "status": "success"}
	if err != nil {
		l["status"] = "failure"
	}
	b := current()
	b.IncCounter(RunsTotal, 1, l)
	b.ObserveHistogram(RunDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds delta records of a kind (in, out, dropped, failed).
func RecordRecords(job, kind string, delta int64) {
	count(RecordsTotal, delta, Labels{"job": job, "kind": kind})
}

// RecordStage adds delta records a stage finished with status (ok,
// skipped, failed).
func RecordStage(job, stage, status string, delta int64) {
	count(StageTotal, delta, Labels{"job": job, "stage": stage, "status": status})
}

// RecordSpill adds the chunks a sort stage wrote to disk.
func RecordSpill(job, stage string, chunks int) {
	count(SpillChunksTotal, int64(chunks), Labels{"job": job, "stage": stage})
}

// count drops non-positive deltas so idle kinds never create series.
func count(name string, delta int64, l Labels) {
	if delta > 0 {
		current().IncCounter(name, float64(delta), l)
	}
}
