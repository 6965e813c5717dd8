package detect

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics emitted across every reload phase.
type Metrics struct {
	ReloadTotal          *prometheus.CounterVec
	ReloadDuration       prometheus.Histogram
	ReloadPhaseDuration  *prometheus.HistogramVec
	ReloadWorkersAdopted prometheus.Gauge
	SnapshotsActive      prometheus.Gauge
	SnapshotRefCount     *prometheus.GaugeVec
}

// NewMetrics registers and returns the detect-engine metric set under the
// given namespace (default "detect", from detect-engine.metrics.namespace).
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "detect"
	}

	m := &Metrics{
		ReloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reload_total",
				Help:      "Total number of reload attempts by outcome.",
			},
			[]string{"status"},
		),
		ReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reload_duration_seconds",
				Help:      "Duration of a full reload pass.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		ReloadPhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reload_phase_duration_seconds",
				Help:      "Duration of a single reload phase.",
				Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"phase"},
		),
		ReloadWorkersAdopted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reload_workers_adopted",
				Help:      "Number of workers that adopted their new thread context in the last reload.",
			},
		),
		SnapshotsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "snapshots_active",
				Help:      "Number of snapshots currently on the active list.",
			},
		),
		SnapshotRefCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "snapshot_refcount",
				Help:      "Reference count of a snapshot, by snapshot id.",
			},
			[]string{"snapshot_id"},
		),
	}

	reg.MustRegister(
		m.ReloadTotal,
		m.ReloadDuration,
		m.ReloadPhaseDuration,
		m.ReloadWorkersAdopted,
		m.SnapshotsActive,
		m.SnapshotRefCount,
	)

	return m
}

// ObservePhase implements PhaseObserver.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.ReloadPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordReloadAttempt implements signalwatch.Metrics: it counts a reload
// request on ReloadTotal under a "source:status" label, alongside the
// outcome labels RecordReload adds to the same counter once the reload
// itself actually runs.
func (m *Metrics) RecordReloadAttempt(source, status string) {
	m.ReloadTotal.WithLabelValues(source + ":" + status).Inc()
}

// RecordReload updates the reload-level counters/gauges after a Run call.
func (m *Metrics) RecordReload(report *ReloadReport) {
	m.ReloadTotal.WithLabelValues(string(report.Outcome)).Inc()
	m.ReloadDuration.Observe(report.Duration.Seconds())
	m.ReloadWorkersAdopted.Set(float64(report.Adopted))
}

// RecordSnapshots updates the active-list gauge; intended to be called
// periodically or right after a reload. It does not set SnapshotRefCount.
func (m *Metrics) RecordSnapshots(registry *MasterRegistry) {
	m.SnapshotsActive.Set(float64(registry.ActiveCount()))
}
