// Package metrics records resolution activity as Prometheus metrics.
//
// Every Metrics value owns its registry so tests and embedding hosts never
// collide on the global one. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
	OutcomeError    = "error"
)

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	snapshotHitsTotal  *prometheus.CounterVec
	rejectionsTotal    *prometheus.CounterVec
	degradationsTotal  *prometheus.CounterVec
	warningsTotal      *prometheus.CounterVec
	probesTotal        *prometheus.CounterVec
	probeDuration      *prometheus.HistogramVec
	cachedConfigs      prometheus.Gauge
}

// New creates Metrics on a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		resolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootcfg_resolutions_total",
				Help: "Total number of resolutions by subsystem, selected provider and outcome",
			},
			[]string{"subsystem", "provider", "outcome"},
		),
		resolutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bootcfg_resolution_duration_seconds",
				Help:    "Duration of resolutions in seconds, capability probes included",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"subsystem"},
		),
		snapshotHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootcfg_snapshot_hits_total",
				Help: "Total number of resolutions served from the snapshot store",
			},
			[]string{"subsystem"},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootcfg_candidate_rejections_total",
				Help: "Total number of rejected candidates",
			},
			[]string{"subsystem", "provider"},
		),
		degradationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootcfg_degradations_total",
				Help: "Total number of explicit preferences that degraded to the documented default",
			},
			[]string{"subsystem", "from", "to"},
		),
		warningsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootcfg_coercion_warnings_total",
				Help: "Total number of malformed environment values replaced by defaults",
			},
			[]string{"subsystem"},
		),
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootcfg_capability_probes_total",
				Help: "Total number of capability probes by result",
			},
			[]string{"capability", "available"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bootcfg_capability_probe_duration_seconds",
				Help:    "Duration of capability probes in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"capability"},
		),
		cachedConfigs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bootcfg_cached_configs",
				Help: "Number of resolved configurations held in the snapshot store",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordResolution records one finished resolution.
func (m *Metrics) RecordResolution(subsystem, provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(subsystem, provider, outcome).Inc()
	m.resolutionDuration.WithLabelValues(subsystem).Observe(elapsed.Seconds())
}

// RecordSnapshotHit records a resolution served from the store.
func (m *Metrics) RecordSnapshotHit(subsystem string) {
	if m == nil {
		return
	}
	m.snapshotHitsTotal.WithLabelValues(subsystem).Inc()
}

// RecordRejection records a rejected candidate.
func (m *Metrics) RecordRejection(subsystem, provider string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(subsystem, provider).Inc()
}

// RecordDegradation records an explicit preference replaced by the default.
func (m *Metrics) RecordDegradation(subsystem, from, to string) {
	if m == nil {
		return
	}
	m.degradationsTotal.WithLabelValues(subsystem, from, to).Inc()
}

// RecordWarnings adds n coercion warnings for subsystem.
func (m *Metrics) RecordWarnings(subsystem string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.warningsTotal.WithLabelValues(subsystem).Add(float64(n))
}

// RecordProbe records a capability probe. Its signature matches
// capability.Observer.
func (m *Metrics) RecordProbe(capability string, available bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.probesTotal.WithLabelValues(capability, strconv.FormatBool(available)).Inc()
	m.probeDuration.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// SetCachedConfigs sets the snapshot store size.
func (m *Metrics) SetCachedConfigs(n int) {
	if m == nil {
		return
	}
	m.cachedConfigs.Set(float64(n))
}
