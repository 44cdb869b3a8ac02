package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"pipekit/internal/metrics"
)

// gathered flattens the registry into "name{k=v,...}" -> value. Summaries
// report their sample sum.
func gathered(t *testing.T, b *Backend) map[string]float64 {
	t.Helper()
	families, err := b.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			out[f.GetName()+labelString(m.GetLabel())] = value(f.GetType(), m)
		}
	}
	return out
}

func labelString(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

func value(typ dto.MetricType, m *dto.Metric) float64 {
	switch typ {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_SUMMARY:
		return m.GetSummary().GetSampleSum()
	}
	return -1
}

func TestNewBackendRequiresGateway(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("nightly", ""); err == nil {
		t.Fatal("want error for empty gateway URL")
	}
	if _, err := NewBackend("", "http://pushgateway:9091"); err != nil {
		t.Fatalf("empty job should default: %v", err)
	}
}

func TestSamplesMapToCollectors(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("nightly", "http://pushgateway:9091")
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"job": "nightly", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"job": "nightly", "kind": "in"})
	b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"job": "nightly", "kind": "in"})
	b.IncCounter(metrics.StageTotal, 3, metrics.Labels{"stage": "filter", "status": "skipped"})
	b.IncCounter(metrics.SpillChunksTotal, 4, metrics.Labels{"stage": "sort"})
	b.IncCounter("pipekit_unknown_total", 9, nil)
	b.ObserveHistogram(metrics.RunDurationSeconds, 1.5, metrics.Labels{"status": "success"})
	b.ObserveHistogram("pipekit_other_seconds", 2, nil)

	got := gathered(t, b)
	want := map[string]float64{
		metrics.RunsTotal + "{status=success}":               1,
		metrics.RecordsTotal + "{kind=in}":                   7,
		metrics.StageTotal + "{stage=filter,status=skipped}": 3,
		metrics.SpillChunksTotal + "{stage=sort}":            4,
		metrics.RunDurationSeconds + "{status=success}":      1.5,
	}
	if len(got) != len(want) {
		t.Fatalf("gathered %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestFlushPushesJobGroup(t *testing.T) {
	t.Parallel()

	type request struct {
		method, path string
		body         string
	}
	reqs := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- request{r.Method, r.URL.Path, string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBackend("nightly", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "out"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := <-reqs
	if got.method != http.MethodPut || got.path != "/metrics/job/nightly" {
		t.Fatalf("push = %s %s, want PUT /metrics/job/nightly", got.method, got.path)
	}
	if got.body == "" {
		t.Fatal("empty push body")
	}
}

func TestFlushReportsGatewayErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("nightly", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err == nil || !strings.HasPrefix(err.Error(), "prompush: push:") {
		t.Fatalf("Flush error = %v", err)
	}
}
