// Package metrics exports build and step counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements core.Observer.
type Collector struct {
	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
}

// NewCollector registers the metrics with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		buildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Finished builds by status",
		}, []string{"status"}),
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of finished builds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Finished steps by builder and status",
		}, []string{"builder", "status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of finished steps",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"builder"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_builds",
			Help:      "Builds waiting for the worker",
		}),
	}
}

func (c *Collector) StepFinished(builder, status string, elapsed time.Duration) {
	c.stepsTotal.WithLabelValues(builder, status).Inc()
	c.stepDuration.WithLabelValues(builder).Observe(elapsed.Seconds())
}

func (c *Collector) BuildFinished(status string, elapsed time.Duration) {
	c.buildsTotal.WithLabelValues(status).Inc()
	c.buildDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth records how many builds are waiting.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}
