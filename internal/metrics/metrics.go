// Package metrics records operational metrics for the import pipeline
// through a pluggable backend. The default backend discards everything, so
// instrumentation is always safe to call.
package metrics

import (
	"strconv"
	"time"
)

// Metric names understood by backends.
const (
	ImportsTotal         = "bulkimport_imports_total"
	ImportDuration       = "bulkimport_import_duration_seconds"
	RowsTotal            = "bulkimport_rows_total"
	BatchesTotal         = "bulkimport_batches_total"
	GuardRejectionsTotal = "bulkimport_guard_rejections_total"
)

// Row outcomes.
const (
	RowProcessed   = "processed"
	RowInvalid     = "invalid"
	RowBatchFailed = "batch_failed"
)

// Batch outcomes.
const (
	BatchCommitted = "committed"
	BatchFailed    = "failed"
	BatchDryRun    = "dry_run"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
// Call it once during startup, before imports run.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// RecordImport counts one finished import run and its duration.
func RecordImport(kind, status string, dryRun bool, d time.Duration) {
	lbls := Labels{
		"kind":    kind,
		"status":  status,
		"dry_run": strconv.FormatBool(dryRun),
	}
	backend.IncCounter(ImportsTotal, 1, lbls)
	backend.ObserveHistogram(ImportDuration, d.Seconds(), lbls)
}

// RecordRows adds delta rows with the given outcome.
func RecordRows(kind, outcome string, delta int) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{"kind": kind, "outcome": outcome})
}

// RecordBatch counts one batch with the given outcome.
func RecordBatch(kind, outcome string) {
	backend.IncCounter(BatchesTotal, 1, Labels{"kind": kind, "outcome": outcome})
}

// RecordRejection counts a guard rejection by code.
func RecordRejection(code string) {
	backend.IncCounter(GuardRejectionsTotal, 1, Labels{"code": code})
}
