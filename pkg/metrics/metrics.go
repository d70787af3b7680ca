// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for the ingestion
// pipeline.
type Metrics struct {
	BatchesProcessed    *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	RegistryJoinTimeout *prometheus.CounterVec
	PagesCompleted      prometheus.Counter
	AdmissionPermits    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all ingestion-pipeline metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		BatchesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batches_processed_total",
				Help: "Total batches completed, by stage.",
			},
			[]string{"stage"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Per-batch stage processing latency distribution.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		RegistryJoinTimeout: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_registry_join_timeouts_total",
				Help: "Total registry join timeouts, by registry (image, ocr).",
			},
			[]string{"registry"},
		),
		PagesCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_pages_completed_total",
				Help: "Total pages that reached the completion tracker.",
			},
		),
		AdmissionPermits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_admission_permits_in_use",
				Help: "Number of admission-semaphore permits currently held.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.BatchesProcessed,
		m.StageDuration,
		m.RegistryJoinTimeout,
		m.PagesCompleted,
		m.AdmissionPermits,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStage records one stage's completion for a batch, taking duration
// seconds.
func (m *Metrics) RecordStage(stage string, duration float64) {
	m.BatchesProcessed.WithLabelValues(stage).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordPagesCompleted adds pages to the completed-pages counter. Called
// once per batch, when every terminal stage has reported for it, so a
// page is never counted more than once even though multiple stages touch
// it.
func (m *Metrics) RecordPagesCompleted(pages int) {
	m.PagesCompleted.Add(float64(pages))
}

// RecordRegistryJoinTimeout records a registry join timeout for the named
// registry ("image" or "ocr").
func (m *Metrics) RecordRegistryJoinTimeout(registry string) {
	m.RegistryJoinTimeout.WithLabelValues(registry).Inc()
}

// SetAdmissionPermitsInUse updates the admission-semaphore gauge.
func (m *Metrics) SetAdmissionPermitsInUse(n int) {
	m.AdmissionPermits.Set(float64(n))
}
