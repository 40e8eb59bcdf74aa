// Package prompush implements a metrics.Backend that pushes to a Prometheus
// Pushgateway. A batch job exits before any scraper could reach it, so the
// collected series are pushed once per Flush.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"eavetl/internal/metrics"
)

// Backend records into a private registry and pushes it on Flush.
type Backend struct {
	pusher *push.Pusher

	steps    *prometheus.CounterVec
	records  *prometheus.CounterVec
	batches  prometheus.Counter
	duration *prometheus.HistogramVec
}

// NewBackend creates a backend pushing to gatewayURL under job.
//
// Errors:
//   - job or gatewayURL empty.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("prompush: job name is empty")
	}
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url is empty")
	}

	b := &Backend{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps executed, by step and status.",
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records written, by kind (sheets, attributes, facts).",
		}, []string{"kind"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Fact batches inserted.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration, by step and status.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"step", "status"}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(b.steps, b.records, b.batches, b.duration)

	b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(label(labels, "step"), label(labels, "status")).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(label(labels, "kind")).Add(delta)
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.duration.WithLabelValues(label(labels, "step"), label(labels, "status")).Observe(value)
}

// Flush pushes every collected series, replacing the job's previous group on
// the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func label(l metrics.Labels, k string) string {
	if v := l[k]; v != "" {
		return v
	}
	return "unknown"
}

var _ metrics.Backend = (*Backend)(nil)
