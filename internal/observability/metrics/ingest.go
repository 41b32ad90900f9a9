// Package metrics provides Prometheus metric collectors for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Batch ingestion outcomes.
const (
	OutcomeAccepted = "accepted" // every detection stored
	OutcomePartial  = "partial"  // some detections dropped by validation
	OutcomeRejected = "rejected" // nothing stored, request invalid
	OutcomeError    = "error"    // storage failure
)

// IngestMetrics contains Prometheus metrics for the detection ingestion path.
type IngestMetrics struct {
	registry *prometheus.Registry

	batchesTotal        *prometheus.CounterVec
	eventsIngestedTotal prometheus.Counter
	eventsDroppedTotal  prometheus.Counter
	batchSizeHist       prometheus.Histogram
	ingestDuration      prometheus.Histogram

	collectors []prometheus.Collector
}

// NewIngestMetrics creates and registers new ingestion metrics.
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() {
	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batches_total",
			Help: "Total number of detection batches received",
		},
		[]string{"outcome"},
	)

	m.eventsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of detection events stored",
		},
	)

	m.eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_dropped_total",
			Help: "Total number of detection events dropped by validation",
		},
	)

	m.batchSizeHist = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_batch_size",
			Help:    "Number of detections per submitted batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to ~16k
		},
	)

	m.ingestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Time taken to validate and store a batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
	)

	m.collectors = []prometheus.Collector{
		m.batchesTotal,
		m.eventsIngestedTotal,
		m.eventsDroppedTotal,
		m.batchSizeHist,
		m.ingestDuration,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordBatch records one batch submission with the given outcome.
func (m *IngestMetrics) RecordBatch(outcome string, submitted, stored, dropped int) {
	m.batchesTotal.WithLabelValues(outcome).Inc()
	m.batchSizeHist.Observe(float64(submitted))
	m.eventsIngestedTotal.Add(float64(stored))
	m.eventsDroppedTotal.Add(float64(dropped))
}

// RecordDuration records the wall time of one ingest operation.
func (m *IngestMetrics) RecordDuration(seconds float64) {
	m.ingestDuration.Observe(seconds)
}
