// Package monitoring exposes pipeline metrics and raises backlog alerts.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/internal/pipeline"
)

const namespace = "skiatlas"

// Metrics holds the Prometheus collectors for one process. The Observe
// methods match the observer hooks of the pipeline components.
type Metrics struct {
	geometryFallbacks *prometheus.CounterVec
	geocodeCalls      *prometheus.CounterVec
	downloads         *prometheus.CounterVec
	filterFeatures    *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	workerEvents      *prometheus.CounterVec
	areas             prometheus.Gauge
	queueBacklog      prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		geometryFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geometry_fallbacks_total",
				Help:      "Elements whose geometry fell back to Point(0,0)",
			},
			[]string{"kind"},
		),
		geocodeCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geocode_calls_total",
				Help:      "Reverse geocoder calls by outcome",
			},
			[]string{"outcome"},
		),
		downloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detail_downloads_total",
				Help:      "Boundary downloads by outcome",
			},
			[]string{"outcome"},
		),
		filterFeatures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spatial_filter_features_total",
				Help:      "Features evaluated by the boundary filter",
			},
			[]string{"result"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of one continuation transition",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 240},
			},
			[]string{"stage", "status"},
		),
		workerEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_total",
				Help:      "Queue worker events: processed, failed and spawned",
			},
			[]string{"event"},
		),
		areas: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "areas",
			Help:      "Area records in the store",
		}),
		queueBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_backlog",
			Help:      "Visible messages in the work queue",
		}),
	}
}

// ObserveFallback counts a geometry fallback.
func (m *Metrics) ObserveFallback(kind model.ElementKind) {
	m.geometryFallbacks.WithLabelValues(string(kind)).Inc()
}

// ObserveGeocode counts a geocoder call.
func (m *Metrics) ObserveGeocode(outcome string) {
	m.geocodeCalls.WithLabelValues(outcome).Inc()
}

// ObserveDownload counts a detail download.
func (m *Metrics) ObserveDownload(outcome string) {
	m.downloads.WithLabelValues(outcome).Inc()
}

// ObserveFilter counts one filtered feature.
func (m *Metrics) ObserveFilter(kept bool) {
	result := "kept"
	if !kept {
		result = "dropped"
	}
	m.filterFeatures.WithLabelValues(result).Inc()
}

// ObserveStage records one transition.
func (m *Metrics) ObserveStage(stage pipeline.Stage, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(string(stage), status).Observe(elapsed.Seconds())
}

// ObserveWorker counts a worker event.
func (m *Metrics) ObserveWorker(event string) {
	m.workerEvents.WithLabelValues(event).Inc()
}

// SetSnapshot publishes the gauges from a snapshot.
func (m *Metrics) SetSnapshot(snap *Snapshot) {
	m.areas.Set(float64(snap.Areas))
	m.queueBacklog.Set(float64(snap.QueueBacklog))
}
