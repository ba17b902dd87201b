package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "speedboard_"

	resultSuccess = "success"
	resultPartial = "partial"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	cycleTotal   *prometheus.CounterVec
	cycleLatency *prometheus.HistogramVec

	sourceOutcomes *prometheus.CounterVec

	renderTotal   *prometheus.CounterVec
	renderLatency *prometheus.HistogramVec

	viewRequests *prometheus.CounterVec

	snapshotArtifacts prometheus.Gauge
)

// Init registers pipeline metrics. Snapshot age is exported when
// publishedAt is non-nil.
func Init(publishedAt func() time.Time, logger *log.Logger) {
	registerOnce.Do(func() {
		cycleTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_cycles_total",
				Help: "Total refresh cycles by result",
			},
			[]string{"result"},
		)
		cycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "refresh_cycle_duration_seconds",
				Help:    "Refresh cycle duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"result"},
		)

		sourceOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "source_outcomes_total",
				Help: "Per-source cycle outcomes",
			},
			[]string{"outcome"},
		)

		renderTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "render_total",
				Help: "Total artifact renders by format and result",
			},
			[]string{"format", "result"},
		)
		renderLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "render_latency_seconds",
				Help:    "Artifact render latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		viewRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "view_requests_total",
				Help: "Total view requests by whether they changed the pending window",
			},
			[]string{"window_update"},
		)

		snapshotArtifacts = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "snapshot_artifacts",
			Help: "Artifacts in the current snapshot",
		})

		prometheus.MustRegister(
			cycleTotal,
			cycleLatency,
			sourceOutcomes,
			renderTotal,
			renderLatency,
			viewRequests,
			snapshotArtifacts,
		)

		if publishedAt != nil {
			registerSnapshotAge(publishedAt, logger)
		}
	})
}

// ObserveCycle records cycle duration and result.
func ObserveCycle(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if cycleTotal != nil {
		cycleTotal.WithLabelValues(result).Inc()
	}
	if cycleLatency != nil {
		cycleLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSourceOutcome counts one source outcome.
func IncSourceOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if sourceOutcomes != nil {
		sourceOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveRender records render latency per output format.
func ObserveRender(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if renderTotal != nil {
		renderTotal.WithLabelValues(format, result).Inc()
	}
	if renderLatency != nil {
		renderLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncViewRequest counts a view request.
func IncViewRequest(windowUpdated bool) {
	label := "false"
	if windowUpdated {
		label = "true"
	}
	if viewRequests != nil {
		viewRequests.WithLabelValues(label).Inc()
	}
}

// SetSnapshotArtifacts sets the current snapshot size.
func SetSnapshotArtifacts(count int) {
	if count < 0 {
		count = 0
	}
	if snapshotArtifacts != nil {
		snapshotArtifacts.Set(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultPartial = resultPartial
	ResultError   = resultError
)
