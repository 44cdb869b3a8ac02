package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type sample struct {
	Kind   string
	Name   string
	Value  float64
	Labels Labels
}

type recorder struct {
	mu      sync.Mutex
	samples []sample
	flushes int
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	r.samples = append(r.samples, sample{"counter", name, delta, l})
	r.mu.Unlock()
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	r.samples = append(r.samples, sample{"histogram", name, v, l})
	r.mu.Unlock()
}

func (r *recorder) Flush() error {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
	return nil
}

// Not parallel: the backend is process-wide.
func useRecorder(t *testing.T) *recorder {
	t.Helper()
	prev := current()
	t.Cleanup(func() { SetBackend(prev) })
	r := &recorder{}
	SetBackend(r)
	return r
}

func TestRecordRun(t *testing.T) {
	r := useRecorder(t)

	RecordRun("nightly", nil, 1500*time.Millisecond)
	RecordRun("nightly", errors.New("sink down"), 250*time.Millisecond)

	ok := Labels{"job": "nightly", "status": "success"}
	bad := Labels{"job": "nightly", "status": "failure"}
	want := []sample{
		{"counter", RunsTotal, 1, ok},
		{"histogram", RunDurationSeconds, 1.5, ok},
		{"counter", RunsTotal, 1, bad},
		{"histogram", RunDurationSeconds, 0.25, bad},
	}
	if diff := cmp.Diff(want, r.samples); diff != "" {
		t.Fatalf("samples (-want +got):\n%s", diff)
	}
}

func TestCountersSkipIdleKinds(t *testing.T) {
	r := useRecorder(t)

	RecordRecords("j", "in", 7)
	RecordRecords("j", "dropped", 0)
	RecordStage("j", "dedupe", "skipped", 2)
	RecordStage("j", "dedupe", "failed", -3)
	RecordSpill("j", "sort", 5)
	RecordSpill("j", "sort", 0)

	want := []sample{
		{"counter", RecordsTotal, 7, Labels{"job": "j", "kind": "in"}},
		{"counter", StageTotal, 2, Labels{"job": "j", "stage": "dedupe", "status": "skipped"}},
		{"counter", SpillChunksTotal, 5, Labels{"job": "j", "stage": "sort"}},
	}
	if diff := cmp.Diff(want, r.samples); diff != "" {
		t.Fatalf("samples (-want +got):\n%s", diff)
	}
}

func TestSetBackend(t *testing.T) {
	r := useRecorder(t)

	if err := Flush(); err != nil {
		t.Fatal(err)
	}
	SetBackend(nil)
	if err := Flush(); err != nil {
		t.Fatal(err)
	}
	if r.flushes != 2 {
		t.Fatalf("flushes = %d, want 2 (nil must not replace the backend)", r.flushes)
	}

	SetBackend(Nop())
	RecordRecords("j", "out", 1)
	if len(r.samples) != 0 {
		t.Fatalf("recorder saw %v after Nop was installed", r.samples)
	}
}
