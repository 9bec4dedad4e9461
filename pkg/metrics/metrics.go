// Package metrics provides the Prometheus collectors for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all capture metrics.
	Namespace = "kairos"

	// Subsystem is the subsystem for capture metrics.
	Subsystem = "capture"
)

// Capture outcomes used as label values.
const (
	OutcomeOK      = "ok"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus metrics for the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Capture metrics
	CapturesTotal          *prometheus.CounterVec
	CaptureDurationSeconds *prometheus.HistogramVec
	ChangesDetectedTotal   *prometheus.CounterVec
	ArtifactBytesTotal     *prometheus.CounterVec

	// Job metrics
	JobsScheduledTotal   *prometheus.CounterVec
	JobsClaimedTotal     prometheus.Counter
	JobsRetriedTotal     prometheus.Counter
	JobsFailedTotal      prometheus.Counter
	JobsCurrentlyRunning prometheus.Gauge
	JobsByStatus         *prometheus.GaugeVec
	StaleLocksReleased   prometheus.Counter

	// Alert metrics
	AlertsSentTotal  *prometheus.CounterVec
	AlertErrorsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initCaptureMetrics(factory)
	m.initJobMetrics(factory)
	m.initAlertMetrics(factory)

	return m
}

func (m *Metrics) initCaptureMetrics(factory promauto.Factory) {
	m.CapturesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "captures_total",
			Help:      "Total number of capture attempts by outcome",
		},
		[]string{"marketplace", "outcome"},
	)

	m.CaptureDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "capture_duration_seconds",
			Help:      "Duration of capture attempts in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2min
		},
		[]string{"marketplace"},
	)

	m.ChangesDetectedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "changes_detected_total",
			Help:      "Runs whose content hash differs from the previous run",
		},
		[]string{"marketplace"},
	)

	m.ArtifactBytesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "artifact_bytes_total",
			Help:      "Bytes written to the artifact store",
		},
		[]string{"kind"},
	)
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsScheduledTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "jobs_scheduled_total",
			Help:      "Total number of jobs enqueued",
		},
		[]string{"trigger"},
	)

	m.JobsClaimedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "jobs_claimed_total",
		Help:      "Total number of jobs claimed by workers",
	})

	m.JobsRetriedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "jobs_retried_total",
		Help:      "Failed attempts that were re-queued",
	})

	m.JobsFailedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "jobs_failed_total",
		Help:      "Jobs that failed terminally",
	})

	m.JobsCurrentlyRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "jobs_currently_running",
		Help:      "Number of jobs being captured by this process",
	})

	m.JobsByStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "jobs",
			Help:      "Number of jobs in storage by status",
		},
		[]string{"status"},
	)

	m.StaleLocksReleased = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "stale_locks_released_total",
		Help:      "Running jobs reclaimed after their lock expired",
	})
}

func (m *Metrics) initAlertMetrics(factory promauto.Factory) {
	m.AlertsSentTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "alerts_sent_total",
			Help:      "Alert notifications delivered",
		},
		[]string{"transport"},
	)

	m.AlertErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "alert_errors_total",
			Help:      "Alert evaluations or deliveries that failed",
		},
		[]string{"stage"},
	)
}

// RecordCapture records a finished capture attempt.
func (m *Metrics) RecordCapture(marketplace, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CapturesTotal.WithLabelValues(marketplace, outcome).Inc()
	m.CaptureDurationSeconds.WithLabelValues(marketplace).Observe(durationSeconds)
}

// RecordChange records a run whose fingerprint changed.
func (m *Metrics) RecordChange(marketplace string) {
	if m == nil {
		return
	}
	m.ChangesDetectedTotal.WithLabelValues(marketplace).Inc()
}

// RecordArtifact records bytes written to the artifact store.
func (m *Metrics) RecordArtifact(kind string, size int64) {
	if m == nil {
		return
	}
	m.ArtifactBytesTotal.WithLabelValues(kind).Add(float64(size))
}

// RecordScheduled records an enqueued job.
func (m *Metrics) RecordScheduled(trigger string) {
	if m == nil {
		return
	}
	m.JobsScheduledTotal.WithLabelValues(trigger).Inc()
}

// RecordJobStarted records a claim and increments the running job count.
func (m *Metrics) RecordJobStarted() {
	if m == nil {
		return
	}
	m.JobsClaimedTotal.Inc()
	m.JobsCurrentlyRunning.Inc()
}

// RecordJobFinished decrements the running job count.
func (m *Metrics) RecordJobFinished() {
	if m == nil {
		return
	}
	m.JobsCurrentlyRunning.Dec()
}

// RecordRetry records a re-queued attempt.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.JobsRetriedTotal.Inc()
}

// RecordFailure records a terminal failure.
func (m *Metrics) RecordFailure() {
	if m == nil {
		return
	}
	m.JobsFailedTotal.Inc()
}

// RecordLocksReleased records jobs reclaimed by the reaper.
func (m *Metrics) RecordLocksReleased(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleLocksReleased.Add(float64(n))
}

// SetJobCounts publishes the per-status job counts.
func (m *Metrics) SetJobCounts(counts map[string]int64) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.JobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordAlertSent records a delivered notification.
func (m *Metrics) RecordAlertSent(transport string) {
	if m == nil {
		return
	}
	m.AlertsSentTotal.WithLabelValues(transport).Inc()
}

// RecordAlertError records a failure in the alert pipeline at stage.
func (m *Metrics) RecordAlertError(stage string) {
	if m == nil {
		return
	}
	m.AlertErrorsTotal.WithLabelValues(stage).Inc()
}
