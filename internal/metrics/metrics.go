// Package metrics is a small facade between the sync pipelines and a metrics
// backend (Datadog, Prometheus Pushgateway, or nothing).
//
// Core packages call the helpers below and never import a backend. The CLI
// picks one backend at startup with SetBackend and flushes it at exit.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends key their buffers on these.
const (
	StepTotal        = "etl_step_total"
	RecordsTotal     = "etl_records_total"
	BatchesTotal     = "etl_batches_total"
	UnitsTotal       = "etl_units_total"
	AttachmentsTotal = "etl_attachments_total"
	StepDuration     = "etl_step_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events.
//
// Implementations must be safe for concurrent use; attachment workers report
// from several goroutines.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush pushes buffered metrics to the installed backend.
func Flush() error { return current().Flush() }

// Step records one finished pipeline stage (extract, transform, load,
// discover) and its duration.
func Step(pipeline, step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	b := current()
	l := Labels{"pipeline": pipeline, "step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// Records counts rows of a given kind (extracted, written, deduped).
func Records(pipeline, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"pipeline": pipeline, "kind": kind})
}

// Batches counts write batches sent to the destination.
func Batches(table string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(n), Labels{"table": table})
}

// Unit counts one work unit outcome: processed, failed or skipped.
func Unit(pipeline, outcome string) {
	current().IncCounter(UnitsTotal, 1, Labels{"pipeline": pipeline, "outcome": outcome})
}

// Attachment counts one attachment key outcome: success or failed.
func Attachment(outcome string) {
	current().IncCounter(AttachmentsTotal, 1, Labels{"outcome": outcome})
}
