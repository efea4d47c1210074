// Package observability exposes Prometheus instruments for the memory
// coordinator and retrieval pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TurnsRecorded     prometheus.Counter
	DocumentsIngested prometheus.Counter
	ChunksIndexed     prometheus.Counter
	IndexFailures     prometheus.Counter
	FactsExtracted    prometheus.Counter
	Searches          *prometheus.CounterVec
	SearchLatency     prometheus.Histogram
	EmbedLatency      prometheus.Histogram
	IndexQueueDepth   prometheus.Gauge
}

// NewMetrics registers all instruments on reg. Pass
// prometheus.DefaultRegisterer in the daemon and a fresh registry in
// tests.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_recorded_total",
			Help:      "Conversation turns durably recorded.",
		}),
		DocumentsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents accepted for ingestion.",
		}),
		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks whose embeddings reached the semantic index.",
		}),
		IndexFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_failures_total",
			Help:      "Embedding or index writes that failed and were deferred.",
		}),
		FactsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_extracted_total",
			Help:      "Facts extracted from turns and merged into the store.",
		}),
		Searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Recall searches by mode.",
		}, []string{"mode"}),
		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_ms",
			Help:      "End-to-end recall latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		EmbedLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_latency_ms",
			Help:      "Embedding provider latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		IndexQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_queue_depth",
			Help:      "Chunks waiting in the async indexing queue.",
		}),
	}
}

func (m *Metrics) ObserveSearchLatency(d time.Duration) {
	m.SearchLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveEmbedLatency(d time.Duration) {
	m.EmbedLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
