// Package metrics exposes Prometheus counters and gauges for the capture
// agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	registry       *prometheus.Registry
	runsTotal      *prometheus.CounterVec
	sessionsTotal  *prometheus.CounterVec
	activeSessions prometheus.Gauge
	archivesTotal  prometheus.Counter
}

// New creates and registers the agent metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamget_runs_total",
		Help: "Total capture runs, labelled by overall result",
	}, []string{"result"})
	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamget_sessions_total",
		Help: "Total capture sessions, labelled by terminal status",
	}, []string{"status"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamget_active_sessions",
		Help: "Capture sessions currently running",
	})
	archivesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamget_archive_uploads_total",
		Help: "Total capture files uploaded to object storage",
	})

	registry.MustRegister(runsTotal, sessionsTotal, activeSessions, archivesTotal)

	return &Metrics{
		registry:       registry,
		runsTotal:      runsTotal,
		sessionsTotal:  sessionsTotal,
		activeSessions: activeSessions,
		archivesTotal:  archivesTotal,
	}
}

// RunFinished counts one finished run.
func (m *Metrics) RunFinished(allFailed bool) {
	result := "acceptable"
	if allFailed {
		result = "failed"
	}
	m.runsTotal.WithLabelValues(result).Inc()
}

// SessionStarted marks one capture session as in flight.
func (m *Metrics) SessionStarted() {
	m.activeSessions.Inc()
}

// SessionFinished counts one terminal session status.
func (m *Metrics) SessionFinished(status string) {
	m.activeSessions.Dec()
	m.sessionsTotal.WithLabelValues(status).Inc()
}

// ArchiveUploaded counts one archived capture file.
func (m *Metrics) ArchiveUploaded() {
	m.archivesTotal.Inc()
}

// Handler returns an http.Handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
