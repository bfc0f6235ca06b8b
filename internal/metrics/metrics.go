// Package metrics holds the agent's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts API requests by route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecut_http_requests_total",
		Help: "Total API requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks API latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framecut_http_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// EngineInitTotal counts engine initialization attempts by result.
	EngineInitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecut_engine_init_total",
		Help: "Engine initialization attempts",
	}, []string{"result"})

	// ExportsTotal counts finished exports by format and result.
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecut_exports_total",
		Help: "Finished exports",
	}, []string{"format", "result"})

	// ExportDuration tracks wall time of successful and failed exports.
	ExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framecut_export_duration_seconds",
		Help:    "Duration of export runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
	}, []string{"format"})

	// ExportsInFlight is 1 while an export runs.
	ExportsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framecut_exports_in_flight",
		Help: "Exports currently running",
	})

	// ArtifactsHeld is the number of export artifacts held in memory.
	ArtifactsHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framecut_artifacts_held",
		Help: "Export artifacts held in memory",
	})

	// ArtifactBytesHeld is the total size of held artifacts.
	ArtifactBytesHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framecut_artifact_bytes_held",
		Help: "Bytes of export artifacts held in memory",
	})

	// PublishTotal counts artifact uploads by result.
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecut_publish_total",
		Help: "Artifact publish attempts",
	}, []string{"result"})

	// WatcherEventsTotal counts import folder events by action.
	WatcherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecut_watcher_events_total",
		Help: "Import folder events handled",
	}, []string{"action"})
)

// Result maps an error to a "success"/"failure" label.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
