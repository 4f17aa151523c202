package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "extrator"

// Metrics exposes Prometheus collectors for job processing. A nil *Metrics records nothing.
type Metrics struct {
	jobsTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	pagesTotal    *prometheus.CounterVec
	jobsActive    prometheus.Gauge
	queueDepth    prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg and panics on conflicts, like promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "jobs_total",
				Help:      "Finished jobs by final status.",
			},
			[]string{"status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each processing stage.",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"stage"},
		),
		pagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "pages_total",
				Help:      "Statement pages sent to the vision model, by outcome.",
			},
			[]string{"outcome"},
		),
		jobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "jobs_active",
				Help:      "Jobs currently being processed.",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "queue_depth",
				Help:      "Jobs waiting for a worker.",
			},
		),
	}
	reg.MustRegister(m.jobsTotal, m.stageDuration, m.pagesTotal, m.jobsActive, m.queueDepth)
	return m
}

func (m *Metrics) observeStage(stage string, started time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func (m *Metrics) page(outcome string) {
	if m == nil {
		return
	}
	m.pagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.jobsActive.Inc()
	m.queueDepth.Dec()
}

func (m *Metrics) jobQueued() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *Metrics) jobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsActive.Dec()
	m.jobsTotal.WithLabelValues(status).Inc()
}
