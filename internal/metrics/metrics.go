// Package metrics registers the Prometheus collectors shared across the
// process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCacheHits counts provider requests served without an
	// external fetch.
	ProviderCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zeroquant_provider_cache_hits_total",
		Help: "Provider requests answered entirely from the cache",
	})

	// ProviderFetches counts external fetches triggered by the provider,
	// labelled by data source.
	ProviderFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeroquant_provider_fetches_total",
		Help: "External fetches triggered by the cached provider",
	}, []string{"source"})

	// AdapterErrors counts adapter failures by source.
	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeroquant_adapter_errors_total",
		Help: "Data source adapter failures",
	}, []string{"source"})

	// FetchLatency observes adapter fetch durations by source.
	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zeroquant_adapter_fetch_seconds",
		Help:    "Adapter fetch latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// CollectorProcessed counts symbols processed per collector task.
	CollectorProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeroquant_collector_processed_total",
		Help: "Symbols processed by background collectors",
	}, []string{"task", "outcome"})

	// CollectorProgress tracks the progress count of the running batch.
	CollectorProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zeroquant_collector_progress",
		Help: "Progress of the currently running collector batch",
	}, []string{"task"})

	// WebsocketConnected reports realtime stream health (1 connected).
	WebsocketConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zeroquant_ws_connected",
		Help: "Brokerage websocket connection state",
	})

	// AlertsTriggered counts fired alert rules.
	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zeroquant_alerts_triggered_total",
		Help: "Alert rules that fired",
	})
)
