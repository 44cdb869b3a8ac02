// Package prompush pushes pipekit metrics to a Prometheus Pushgateway.
//
// Runs are short-lived batch jobs, so samples collect in a private
// registry and are pushed on Flush under the run's job name. The "job"
// label is carried by the push grouping key and is not a collector label.
package prompush

import (
	"fmt"

	"pipekit/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// counters maps each counter name to its help text and label names.
var counters = []struct {
	name, help string
	labels     []string
}{
	{metrics.RunsTotal, "Pipeline runs by status.", []string{"status"}},
	{metrics.RecordsTotal, "Records by kind (in, out, dropped, failed).", []string{"kind"}},
	{metrics.StageTotal, "Records finished by each stage, by status.", []string{"stage", "status"}},
	{metrics.SpillChunksTotal, "Sorted chunks spilled to disk.", []string{"stage"}},
}

// Backend implements metrics.Backend on top of a Pushgateway pusher.
type Backend struct {
	pusher   *push.Pusher
	reg      *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	labels   map[string][]string
	duration *prometheus.SummaryVec
}

// NewBackend builds a backend pushing to gatewayURL under job. An empty
// job becomes "pipekit".
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if job == "" {
		job = "pipekit"
	}
	b := &Backend{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec, len(counters)),
		labels:   make(map[string][]string, len(counters)),
	}
	for _, c := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: c.name, Help: c.help}, c.labels)
		if err := b.reg.Register(vec); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", c.name, err)
		}
		b.counters[c.name] = vec
		b.labels[c.name] = c.labels
	}
	b.duration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       metrics.RunDurationSeconds,
		Help:       "Wall time of pipeline runs in seconds.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"status"})
	if err := b.reg.Register(b.duration); err != nil {
		return nil, fmt.Errorf("prompush: register %s: %w", metrics.RunDurationSeconds, err)
	}
	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter adds delta to a known counter. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	vec, ok := b.counters[name]
	if !ok {
		return
	}
	names := b.labels[name]
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = l[n]
	}
	vec.WithLabelValues(values...).Add(delta)
}

// ObserveHistogram records run durations; other names are ignored.
func (b *Backend) ObserveHistogram(name string, v float64, l metrics.Labels) {
	if name == metrics.RunDurationSeconds {
		b.duration.WithLabelValues(l["status"]).Observe(v)
	}
}

// Flush replaces the job's metric group on the Pushgateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
