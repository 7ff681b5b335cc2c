// Package prom exposes the metrics package through a Prometheus registry
// scraped over HTTP.
package prom

import (
	"fmt"
	"net/http"

	"github.com/rpattn/bulkimport/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is a Prometheus metrics backend.
type Backend struct {
	reg *prometheus.Registry

	imports    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rows       *prometheus.CounterVec
	batches    *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend registers the import collectors, plus the Go runtime and
// process collectors, on a fresh registry.
func NewBackend() (*Backend, error) {
	b := &Backend{
		reg: prometheus.NewRegistry(),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.ImportsTotal,
			Help: "Finished import runs by kind, terminal status and dry-run flag.",
		}, []string{"kind", "status", "dry_run"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.ImportDuration,
			Help:    "Wall time of import runs in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind", "status", "dry_run"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Data rows by kind and outcome (processed, invalid, batch_failed).",
		}, []string{"kind", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batches by kind and outcome (committed, failed, dry_run).",
		}, []string{"kind", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.GuardRejectionsTotal,
			Help: "Imports rejected before processing, by rejection code.",
		}, []string{"code"}),
	}

	for name, collector := range map[string]prometheus.Collector{
		"imports":    b.imports,
		"duration":   b.duration,
		"rows":       b.rows,
		"batches":    b.batches,
		"rejections": b.rejections,
		"go":         collectors.NewGoCollector(),
		"process":    collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := b.reg.Register(collector); err != nil {
			return nil, fmt.Errorf("prom: register %s collector: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.ImportsTotal:
		b.imports.WithLabelValues(labels["kind"], labels["status"], labels["dry_run"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(labels["kind"], labels["outcome"]).Add(delta)
	case metrics.BatchesTotal:
		b.batches.WithLabelValues(labels["kind"], labels["outcome"]).Add(delta)
	case metrics.GuardRejectionsTotal:
		b.rejections.WithLabelValues(labels["code"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name == metrics.ImportDuration {
		b.duration.WithLabelValues(labels["kind"], labels["status"], labels["dry_run"]).Observe(value)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{Registry: b.reg})
}
