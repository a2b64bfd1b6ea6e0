// Package metrics exposes pipeline counters through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	FramesProcessed  prometheus.Counter
	FramesRejected   prometheus.Counter
	FramesSkipped    prometheus.Counter
	InferenceLatency prometheus.Histogram
	ViolationsOpened prometheus.Counter
	ViolationsClosed prometheus.Counter
	AlertsSent       prometheus.Counter
	AlertsFailed     prometheus.Counter
	ActiveSessions   prometheus.Gauge
	ActiveTracks     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with a private Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safesight_frames_processed_total",
			Help: "Total frames run through the detection pipeline",
		}),
		FramesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safesight_frames_rejected_total",
			Help: "Total frames rejected by backpressure",
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safesight_frames_skipped_total",
			Help: "Total frames skipped after inference timeout",
		}),
		InferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safesight_inference_latency_seconds",
			Help:    "Detector inference latency",
			Buckets: prometheus.DefBuckets,
		}),
		ViolationsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safesight_violations_opened_total",
			Help: "Total violations opened",
		}),
		ViolationsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safesight_violations_closed_total",
			Help: "Total violations closed",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safesight_alerts_sent_total",
			Help: "Total alerts dispatched successfully",
		}),
		AlertsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safesight_alerts_failed_total",
			Help: "Total alert dispatches that failed",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safesight_active_sessions",
			Help: "Currently active streaming sessions",
		}),
		ActiveTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safesight_active_tracks",
			Help: "Currently live tracks across all sessions",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.FramesRejected,
		m.FramesSkipped,
		m.InferenceLatency,
		m.ViolationsOpened,
		m.ViolationsClosed,
		m.AlertsSent,
		m.AlertsFailed,
		m.ActiveSessions,
		m.ActiveTracks,
	)

	return m
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
