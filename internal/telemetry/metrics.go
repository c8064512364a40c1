package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
)

// Metrics exposes Prometheus gauges and counters for the run lifecycle,
// namespaced "graphrun_", grounded on the reference pack's promauto-factory
// idiom. All methods are no-ops when the collector is disabled.
type Metrics struct {
	pendingRuns prometheus.Gauge
	runningRuns prometheus.Gauge

	runsStarted   prometheus.Counter
	runsSucceeded prometheus.Counter
	runsFailed    prometheus.Counter
	runsRetried   *prometheus.CounterVec

	enabled bool
}

// NewMetrics registers the run-lifecycle collectors with registerer. A nil
// registerer uses prometheus.DefaultRegisterer. If enabled is false, the
// returned Metrics records nothing.
func NewMetrics(registerer prometheus.Registerer, enabled bool) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		enabled: enabled,
		pendingRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphrun",
			Name:      "pending_runs",
			Help:      "Number of runs currently queued in pending status",
		}),
		runningRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphrun",
			Name:      "running_runs",
			Help:      "Number of runs currently executing",
		}),
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "runs_started_total",
			Help:      "Cumulative count of runs the executor has started",
		}),
		runsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "runs_succeeded_total",
			Help:      "Cumulative count of runs that reached success",
		}),
		runsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "runs_failed_total",
			Help:      "Cumulative count of runs that reached error",
		}),
		runsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "runs_retried_total",
			Help:      "Cumulative count of transient-error retries",
		}, []string{"attempt"}),
	}
}

// SetPendingRuns records the current pending-run queue depth.
func (m *Metrics) SetPendingRuns(n int) {
	if m == nil || !m.enabled {
		return
	}
	m.pendingRuns.Set(float64(n))
}

// SetRunningRuns records the current number of in-flight executors.
func (m *Metrics) SetRunningRuns(n int) {
	if m == nil || !m.enabled {
		return
	}
	m.runningRuns.Set(float64(n))
}

// RecordStarted increments runs_started_total.
func (m *Metrics) RecordStarted() {
	if m == nil || !m.enabled {
		return
	}
	m.runsStarted.Inc()
}

// RecordSucceeded increments runs_succeeded_total.
func (m *Metrics) RecordSucceeded() {
	if m == nil || !m.enabled {
		return
	}
	m.runsSucceeded.Inc()
}

// RecordFailed increments runs_failed_total.
func (m *Metrics) RecordFailed() {
	if m == nil || !m.enabled {
		return
	}
	m.runsFailed.Inc()
}

// RecordRetry increments runs_retried_total for attempt.
func (m *Metrics) RecordRetry(attempt int) {
	if m == nil || !m.enabled {
		return
	}
	m.runsRetried.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// StartRunSpan starts a trace span for one run execution attempt.
func (p *Provider) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, "run.execute", trace.WithAttributes(runIDAttr(runID)))
}
