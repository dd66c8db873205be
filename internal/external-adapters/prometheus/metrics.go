// Package prometheus records survey pipeline metrics with the Prometheus client library
// and exports them in the text exposition format.
package prometheus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ochairo/tally/internal/domain/interfaces"
)

const namespace = "tally"

// Metrics implements interfaces.Metrics on its own registry, so several
// instances (one per run, or per test) never collide
type Metrics struct {
	registry *prometheus.Registry

	queueAdmitted   *prometheus.CounterVec
	queueInFlight   *prometheus.GaugeVec
	queueDuration   *prometheus.HistogramVec
	queueErrors     *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	repositories    prometheus.Gauge
	downloadedBytes prometheus.Counter
	findings        *prometheus.CounterVec
	runDuration     prometheus.Gauge
	lastRun         prometheus.Gauge
}

// New creates the metrics and registers them
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.queueAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "admitted_total",
		Help:      "Work items admitted, by queue",
	}, []string{"queue"})

	m.queueInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "in_flight",
		Help:      "Work items in flight at the last admission, by queue",
	}, []string{"queue"})

	m.queueDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "item_duration_seconds",
		Help:      "Time from admission to completion of a work item",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"queue"})

	m.queueErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "errors_total",
		Help:      "Work items that completed with an error, by queue",
	}, []string{"queue"})

	m.stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_failures_total",
		Help:      "Recorded per-item failures, by pipeline stage",
	}, []string{"stage"})

	m.repositories = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "repositories_discovered",
		Help:      "Repositories selected for the survey",
	})

	m.downloadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloaded_bytes_total",
		Help:      "Archive bytes written to disk",
	})

	m.findings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "findings_total",
		Help:      "Component findings folded into the report, by outcome",
	}, []string{"outcome"})

	m.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last survey run",
	})

	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last survey run finished",
	})

	m.registry.MustRegister(
		m.queueAdmitted,
		m.queueInFlight,
		m.queueDuration,
		m.queueErrors,
		m.stageFailures,
		m.repositories,
		m.downloadedBytes,
		m.findings,
		m.runDuration,
		m.lastRun,
	)
	return m
}

var _ interfaces.Metrics = (*Metrics)(nil)

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// QueueAdmitted implements interfaces.Metrics
func (m *Metrics) QueueAdmitted(queue string, inFlight int) {
	m.queueAdmitted.WithLabelValues(queue).Inc()
	m.queueInFlight.WithLabelValues(queue).Set(float64(inFlight))
}

// QueueCompleted implements interfaces.Metrics
func (m *Metrics) QueueCompleted(queue string, took time.Duration, err error) {
	m.queueDuration.WithLabelValues(queue).Observe(took.Seconds())
	if err != nil {
		m.queueErrors.WithLabelValues(queue).Inc()
	}
}

// StageFailure implements interfaces.Metrics
func (m *Metrics) StageFailure(stage string) {
	m.stageFailures.WithLabelValues(stage).Inc()
}

// RepositoriesDiscovered implements interfaces.Metrics
func (m *Metrics) RepositoriesDiscovered(n int) {
	m.repositories.Set(float64(n))
}

// BytesDownloaded implements interfaces.Metrics
func (m *Metrics) BytesDownloaded(n int64) {
	if n > 0 {
		m.downloadedBytes.Add(float64(n))
	}
}

// FindingsMerged implements interfaces.Metrics
func (m *Metrics) FindingsMerged(merged, dropped int) {
	m.findings.WithLabelValues("merged").Add(float64(merged))
	m.findings.WithLabelValues("dropped").Add(float64(dropped))
}

// RunFinished implements interfaces.Metrics
func (m *Metrics) RunFinished(took time.Duration) {
	m.runDuration.Set(took.Seconds())
	m.lastRun.SetToCurrentTime()
}

// WriteTextfile writes every metric to path in the text exposition format,
// ready for the node exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
