// Package metrics is the backend-neutral seam the loader reports through.
//
// Core code calls the Record* helpers; a concrete backend (for example
// internal/metrics/datadog) is installed once at startup with SetBackend.
// Without a backend every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names understood by backends.
const (
	StepTotal           = "load_step_total"
	StepDurationSeconds = "load_step_duration_seconds"
	RowsTotal           = "load_rows_total"
	DocumentsTotal      = "load_documents_total"
	ItemsTotal          = "load_items_total"
)

// Labels are metric dimensions such as {"step": "document", "status": "ok"}.
type Labels map[string]string

// Backend receives metric events.
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
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		current = nopBackend{}
		return
	}
	current = b
}

func get() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Flush asks the installed backend to submit buffered metrics.
func Flush() error { return get().Flush() }

// RecordStep counts one execution of a pipeline step and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := get()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows written to table.
func RecordRows(table string, n int64) {
	if n <= 0 {
		return
	}
	get().IncCounter(RowsTotal, float64(n), Labels{"table": table})
}

// RecordDocument counts a processed document and the items it contained.
func RecordDocument(err error, items int) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	b := get()
	b.IncCounter(DocumentsTotal, 1, Labels{"status": status})
	if items > 0 {
		b.IncCounter(ItemsTotal, float64(items), nil)
	}
}
