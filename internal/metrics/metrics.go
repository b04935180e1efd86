package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "source_requests_total",
		Help:      "Total operations against external sources by source, operation and outcome.",
	}, []string{"source", "operation", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "source_request_duration_seconds",
		Help:      "External source operation duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"source", "operation"})

	SourceAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "catalog",
		Name:      "source_available",
		Help:      "Whether a source is available (1) or its circuit is open (0).",
	}, []string{"source"})

	CircuitOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "circuit_opened_total",
		Help:      "Total circuit-breaker trips by source.",
	}, []string{"source"})

	PreviewHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "preview_hits_total",
		Help:      "Total preview cache hits.",
	})

	PreviewMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "preview_misses_total",
		Help:      "Total preview cache misses, including lazy-expired entries.",
	})

	QuotaRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "quota_rejections_total",
		Help:      "Total search requests rejected by the per-user quota.",
	})

	IngestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "ingest_total",
		Help:      "Total upserts by source and outcome (created, merged, unchanged, error).",
	}, []string{"source", "outcome"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceAvailable,
		CircuitOpenedTotal,
		PreviewHitsTotal,
		PreviewMissesTotal,
		QuotaRejectionsTotal,
		IngestTotal,
	)
}
