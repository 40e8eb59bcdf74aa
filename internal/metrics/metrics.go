// Package metrics is the backend-agnostic instrumentation surface of the
// loader. Pipeline code records through the package-level helpers; the binary
// picks a concrete Backend (Datadog, Prometheus Pushgateway) with SetBackend.
//
// Until SetBackend is called every helper is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends map them onto their own naming conventions.
const (
	StepTotal           = "etl_step_total"            // labels: step, status
	RecordsTotal        = "etl_records_total"         // labels: kind
	BatchesTotal        = "etl_batches_total"         // no labels
	StepDurationSeconds = "etl_step_duration_seconds" // labels: step, status
)

// Record kinds used with RecordsTotal.
const (
	KindSheets     = "sheets"
	KindAttributes = "attributes"
	KindFacts      = "facts"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush delivers whatever the backend buffered.
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

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline step and observes its
// duration. status is "ok" when err is nil and "error" otherwise.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds n to the record counter for kind. n <= 0 is ignored.
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatches adds n to the batch counter. n <= 0 is ignored.
func RecordBatches(n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(n), nil)
}
