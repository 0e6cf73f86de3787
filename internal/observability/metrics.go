package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cdm"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// feature API and the observation ingest pipeline.
type Metrics struct {
	// Feature query metrics.
	ProviderRequests *prometheus.CounterVec   // labels: collection, operation={query,count,get}, outcome={ok,invalid,not_found,unavailable,error}
	QueryDuration    *prometheus.HistogramVec // labels: collection, operation
	FeaturesReturned *prometheus.CounterVec   // labels: collection

	// Ingest metrics.
	MessagesConsumed prometheus.Counter
	RecordsInserted  prometheus.Counter
	RecordsDuplicate prometheus.Counter
	TransformErrors  prometheus.Counter
	LoadErrors       prometheus.Counter
	DeadLettered     prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Feature provider operations by collection, operation and outcome.",
		}, []string{"collection", "operation", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_query_duration_seconds",
			Help:      "Storage round-trip duration of provider operations.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"collection", "operation"}),
		FeaturesReturned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_returned_total",
			Help:      "Features returned to callers.",
		}, []string{"collection"}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_consumed_total",
			Help:      "Total messages read from the observation topic.",
		}),
		RecordsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_inserted_total",
			Help:      "Observations written to storage.",
		}),
		RecordsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_duplicate_total",
			Help:      "Observations skipped because their id already exists.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_transform_errors_total",
			Help:      "Messages that failed to parse or validate.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_load_errors_total",
			Help:      "Observations the store refused for a reason other than connectivity.",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_dead_lettered_total",
			Help:      "Rejected messages forwarded to the dead-letter topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_pipeline_running",
			Help:      "1 when the ingest pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ProviderRequests,
		m.QueryDuration,
		m.FeaturesReturned,
		m.MessagesConsumed,
		m.RecordsInserted,
		m.RecordsDuplicate,
		m.TransformErrors,
		m.LoadErrors,
		m.DeadLettered,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
	}
}
