// Package metrics exposes Prometheus instrumentation for the detection
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors updated by the detection loop.
type Metrics struct {
	registry *prometheus.Registry

	DetectionsTotal    *prometheus.CounterVec
	DetectionErrors    *prometheus.CounterVec
	SkippedFramesTotal *prometheus.CounterVec
	CreditsCharged     prometheus.Counter
	DetectionLatency   prometheus.Histogram
	QualityLevel       *prometheus.GaugeVec
	ActiveSessions     prometheus.Gauge
	TrackedObjects     *prometheus.GaugeVec
}

// New creates the metric set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotter",
			Name:      "detections_total",
			Help:      "Successful remote detection calls, by session.",
		}, []string{"session"}),

		DetectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotter",
			Name:      "detection_errors_total",
			Help:      "Failed remote detection calls, by error kind.",
		}, []string{"kind"}),

		SkippedFramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotter",
			Name:      "skipped_frames_total",
			Help:      "Frames not sent to the detector, by skip reason.",
		}, []string{"reason"}),

		CreditsCharged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spotter",
			Name:      "credits_charged_total",
			Help:      "Total credits charged for detection calls.",
		}),

		DetectionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotter",
			Name:      "detection_latency_seconds",
			Help:      "Round trip latency of remote detection calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
		}),

		QualityLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spotter",
			Name:      "quality_level",
			Help:      "Current adaptive quality level per session (0.3-0.9).",
		}, []string{"session"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "spotter",
			Name:      "active_sessions",
			Help:      "Number of running detection sessions.",
		}),

		TrackedObjects: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spotter",
			Name:      "tracked_objects",
			Help:      "Objects currently held by the tracker per session.",
		}, []string{"session"}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ForgetSession drops per-session series after a session stops so the
// registry does not grow without bound.
func (m *Metrics) ForgetSession(sessionID string) {
	m.DetectionsTotal.DeleteLabelValues(sessionID)
	m.QualityLevel.DeleteLabelValues(sessionID)
	m.TrackedObjects.DeleteLabelValues(sessionID)
}
