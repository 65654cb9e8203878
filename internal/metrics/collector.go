// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records pipeline and transport metrics.
type Collector struct {
	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runsActive    prometheus.Gauge
	resumesTotal  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	tokensEmitted *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the metric families with reg (nil means the
// default registerer) and returns the collector.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of pipeline runs started",
		},
		[]string{"workflow"},
	)

	c.runsFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of pipeline runs reaching a terminal status",
		},
		[]string{"workflow", "status"},
	)

	c.runsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of runs currently advancing",
		},
	)

	c.resumesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resumes_total",
			Help:      "Total number of accepted human inputs",
		},
		[]string{"workflow", "kind"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow", "stage"},
	)

	c.stageFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of failed stage executions",
		},
		[]string{"workflow", "stage", "code"},
	)

	c.tokensEmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_emitted_total",
			Help:      "Total number of streamed text fragments",
		},
		[]string{"workflow"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordRunStarted records a new run.
func (c *Collector) RecordRunStarted(workflow string) {
	c.runsStarted.WithLabelValues(workflow).Inc()
}

// RecordRunFinished records a run reaching a terminal status.
func (c *Collector) RecordRunFinished(workflow, status string) {
	c.runsFinished.WithLabelValues(workflow, status).Inc()
}

// RunActive tracks the advancing-run gauge.
func (c *Collector) RunActive(delta float64) {
	c.runsActive.Add(delta)
}

// RecordResume records an accepted human input.
func (c *Collector) RecordResume(workflow, kind string) {
	c.resumesTotal.WithLabelValues(workflow, kind).Inc()
}

// RecordStage records one stage execution.
func (c *Collector) RecordStage(workflow, stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(workflow, stage).Observe(duration.Seconds())
}

// RecordStageFailure records a failed stage execution.
func (c *Collector) RecordStageFailure(workflow, stage, code string) {
	c.stageFailures.WithLabelValues(workflow, stage, code).Inc()
}

// RecordTokens records streamed fragments.
func (c *Collector) RecordTokens(workflow string, n int) {
	c.tokensEmitted.WithLabelValues(workflow).Add(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
