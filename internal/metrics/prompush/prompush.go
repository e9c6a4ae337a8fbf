// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package. Sync runs are batch jobs, so metrics are pushed
// rather than scraped.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"erpsync/internal/metrics"
)

// labelNames fixes the label set of every collector. Labels a caller does not
// supply are exported as "".
var labelNames = map[string][]string{
	metrics.StepTotal:        {"pipeline", "step", "status"},
	metrics.RecordsTotal:     {"pipeline", "kind"},
	metrics.BatchesTotal:     {"table"},
	metrics.UnitsTotal:       {"pipeline", "outcome"},
	metrics.AttachmentsTotal: {"outcome"},
	metrics.StepDuration:     {"pipeline", "step", "status"},
}

var help = map[string]string{
	metrics.StepTotal:        "Cumulative number of pipeline stages run.",
	metrics.RecordsTotal:     "Cumulative number of records by kind.",
	metrics.BatchesTotal:     "Cumulative number of write batches sent.",
	metrics.UnitsTotal:       "Cumulative number of work units by outcome.",
	metrics.AttachmentsTotal: "Cumulative number of attachment keys by outcome.",
	metrics.StepDuration:     "Duration of pipeline stages in seconds.",
}

// Backend implements metrics.Backend on a private registry.
type Backend struct {
	pusher     *push.Pusher
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// New returns a Backend pushing to the Pushgateway at url under job.
func New(url, job string) (*Backend, error) {
	if url == "" {
		return nil, fmt.Errorf("prompush: missing pushgateway url")
	}
	if job == "" {
		job = "erpsync"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for name, labels := range labelNames {
		if name == metrics.StepDuration {
			h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    name,
				Help:    help[name],
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 9),
			}, labels)
			reg.MustRegister(h)
			b.histograms[name] = h
			continue
		}
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help[name]}, labels)
		reg.MustRegister(c)
		b.counters[name] = c
	}

	b.pusher = push.New(url, job).Gatherer(reg)
	return b, nil
}

func pick(name string, labels metrics.Labels) prometheus.Labels {
	out := prometheus.Labels{}
	for _, l := range labelNames[name] {
		out[l] = labels[l]
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown metrics are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	c, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	c.With(pick(name, labels)).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown metrics are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	h, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	h.With(pick(name, labels)).Observe(value)
}

// Flush pushes the full registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
