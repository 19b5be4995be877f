// Package metrics exposes the Prometheus instrumentation shared by the
// writer and watcher daemons.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Writer-side metrics.

	BatchesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_batches_published_total",
		Help: "Batches successfully published to the chain.",
	})

	BatchURLsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_batch_urls_published_total",
		Help: "Total URLs contained in published batches.",
	})

	BatchPayloadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "podping_batch_payload_bytes",
		Help:    "Serialized envelope size of published batches.",
		Buckets: prometheus.LinearBuckets(100, 500, 16),
	})

	PublishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_publish_retries_total",
		Help: "Publish attempts that failed and were retried.",
	})

	PublishFatal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_publish_fatal_total",
		Help: "Publish failures that exhausted the retry ladder or were non-retryable.",
	})

	HaltQueueActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podping_halt_queue_active",
		Help: "1 when HALT_THE_QUEUE is set, 0 otherwise.",
	})

	NodePoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_nodepool_exhausted_total",
		Help: "Calls that failed because every endpoint's circuit breaker was open.",
	})

	NodeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podping_node_request_duration_seconds",
		Help:    "Node RPC call latency by endpoint and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})

	// Watcher-side metrics.

	CursorBlockNum = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podping_cursor_block_num",
		Help: "Current watcher cursor block number.",
	})

	OperationsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_operations_filtered_total",
		Help: "custom_json operations that matched the podping id pattern.",
	})

	URLsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_urls_emitted_total",
		Help: "URL records emitted to sinks.",
	})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podping_sink_errors_total",
		Help: "Sink delivery failures by sink name.",
	}, []string{"sink"})
)
