// Package metrics exposes recording session counters for Prometheus.
//
// Everything registers on a private registry, so several Collectors can
// coexist in one process (tests, the fire command next to a daemon).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recwake"

// Collector holds the session metrics.
type Collector struct {
	registry *prometheus.Registry

	sessions        *prometheus.CounterVec
	acquireAttempts *prometheus.CounterVec
	capturedSeconds prometheus.Histogram
	fireLateness    prometheus.Histogram
	jobState        *prometheus.GaugeVec
	capturedBytes   prometheus.Counter
}

// States enumerated on the job_state gauge.
var States = []string{"idle", "armed", "running", "completed", "cancelled", "failed"}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Recording jobs that reached a terminal state, by outcome and error kind.",
		}, []string{"outcome", "error"}),
		acquireAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_attempts_total",
			Help:      "Capture input acquisition attempts by result.",
		}, []string{"result"}),
		capturedSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "captured_seconds",
			Help:      "Audio length of finalized recordings.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 10800},
		}),
		fireLateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fire_lateness_seconds",
			Help:      "Delay between scheduled start and wake delivery.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 15, 60, 300},
		}),
		jobState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_state",
			Help:      "1 for the current job state, 0 otherwise.",
		}, []string{"state"}),
		capturedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_bytes_total",
			Help:      "PCM bytes written to spools.",
		}),
	}

	c.registry.MustRegister(
		c.sessions,
		c.acquireAttempts,
		c.capturedSeconds,
		c.fireLateness,
		c.jobState,
		c.capturedBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range States {
		c.jobState.WithLabelValues(s).Set(0)
	}
	return c
}

// Registry exposes the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts a job reaching a terminal state. errorKind is empty
// unless outcome is "failed".
func (c *Collector) RecordOutcome(outcome, errorKind string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(outcome, errorKind).Inc()
}

// RecordAcquire counts one acquisition attempt: "ok", "busy" or "unavailable".
func (c *Collector) RecordAcquire(result string) {
	if c == nil {
		return
	}
	c.acquireAttempts.WithLabelValues(result).Inc()
}

// RecordCaptured observes the length of a finished recording.
func (c *Collector) RecordCaptured(seconds float64) {
	if c == nil {
		return
	}
	c.capturedSeconds.Observe(seconds)
}

// RecordLateness observes how late a wake fire arrived.
func (c *Collector) RecordLateness(seconds float64) {
	if c == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	c.fireLateness.Observe(seconds)
}

// AddBytes counts spooled PCM.
func (c *Collector) AddBytes(n int) {
	if c == nil {
		return
	}
	c.capturedBytes.Add(float64(n))
}

// SetState flips the job_state gauge to state.
func (c *Collector) SetState(state string) {
	if c == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		c.jobState.WithLabelValues(s).Set(v)
	}
}
