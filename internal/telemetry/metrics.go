// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	UnknownActions   prometheus.Counter
	SyncRuns         *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
	RecordsSynced    prometheus.Counter
	RecordsEvicted   prometheus.Counter
	LogQueueLength   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "staycache",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "staycache",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "cache_hits_total",
			Help:      "Total cache hits per action.",
		}, []string{"action"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "cache_misses_total",
			Help:      "Total cache misses per action.",
		}, []string{"action"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "staycache",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream booking API call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"action"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "upstream_errors_total",
			Help:      "Total upstream booking API failures.",
		}, []string{"action"}),

		UnknownActions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "unknown_actions_total",
			Help:      "Total requests for actions the gateway does not cache.",
		}),

		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "sync_runs_total",
			Help:      "Total sync job executions.",
		}, []string{"job", "outcome"}),

		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "staycache",
			Name:                            "sync_duration_seconds",
			Help:                            "Sync job duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"job"}),

		RecordsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "records_synced_total",
			Help:      "Total booking records written by sync jobs.",
		}),

		RecordsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "staycache",
			Name:      "records_evicted_total",
			Help:      "Total booking records removed by cleanup.",
		}),

		LogQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "staycache",
			Name:      "log_queue_length",
			Help:      "Current number of queued diagnostic log entries.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.UnknownActions,
		m.SyncRuns,
		m.SyncDuration,
		m.RecordsSynced,
		m.RecordsEvicted,
		m.LogQueueLength,
	)

	return m
}
