// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for
// the gateway. Every Metrics method is safe to call on a nil receiver so
// components can run without instrumentation in tests.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sgate"

// latencyBuckets are histogram boundaries in seconds sized for LLM calls.
var latencyBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics holds every Prometheus instrument the gateway records.
type Metrics struct {
	registry *prometheus.Registry

	inFlight        prometheus.Gauge
	admitted        prometheus.Counter
	rejected        prometheus.Counter
	queueWait       prometheus.Histogram
	selections      *prometheus.CounterVec
	noArms          *prometheus.CounterVec
	reports         *prometheus.CounterVec
	conflicts       prometheus.Counter
	stepDuration    *prometheus.HistogramVec
	workflows       *prometheus.CounterVec
	streamSkipped   prometheus.Counter
	quotaConsumed   *prometheus.CounterVec
	quotaRejected   *prometheus.CounterVec
	quotaSynced     *prometheus.CounterVec
	quotaSyncErrors *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics registers all instruments on a fresh registry. Using a private
// registry keeps parallel tests from colliding on the global one.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "admission", Name: "in_flight",
			Help: "Requests currently holding an admission permit.",
		}),
		admitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "admission", Name: "admitted_total",
			Help: "Requests granted an admission permit.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "admission", Name: "rejected_total",
			Help: "Requests rejected because the gateway was overloaded.",
		}),
		queueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "admission", Name: "queue_wait_seconds",
			Help:    "Time spent waiting for an admission permit.",
			Buckets: latencyBuckets,
		}),
		selections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "routing", Name: "selections_total",
			Help: "Arm selections by arm and whether the pick was exploratory.",
		}, []string{"arm", "explored"}),
		noArms: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "routing", Name: "no_available_arms_total",
			Help: "Selections that found no eligible arm.",
		}, []string{"capability", "model"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "routing", Name: "reports_total",
			Help: "Outcomes reported to the router by arm and result.",
		}, []string{"arm", "outcome"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "routing", Name: "report_conflicts_total",
			Help: "Stat updates dropped after exhausting compare-and-swap retries.",
		}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "step_duration_seconds",
			Help:    "Duration of a single step attempt.",
			Buckets: latencyBuckets,
		}, []string{"step", "status"}),
		workflows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "runs_total",
			Help: "Workflow executions by terminal state.",
		}, []string{"state"}),
		streamSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "skipped_lines_total",
			Help: "Malformed or oversize stream lines that were dropped.",
		}),
		quotaConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quota", Name: "consumed_total",
			Help: "Units consumed on the fast path by ledger.",
		}, []string{"ledger"}),
		quotaRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quota", Name: "rejected_total",
			Help: "Consumptions refused for insufficient balance by ledger.",
		}, []string{"ledger"}),
		quotaSynced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quota", Name: "synced_units_total",
			Help: "Units reconciled into the durable ledger.",
		}, []string{"ledger"}),
		quotaSyncErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quota", Name: "sync_errors_total",
			Help: "Failed reconciliation attempts by ledger.",
		}, []string{"ledger"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: latencyBuckets,
		}, []string{"route"}),
	}
}

// Registry exposes the underlying registry for gathering in tests.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Admitted records a granted permit and how long it waited.
func (m *Metrics) Admitted(wait time.Duration) {
	if m == nil {
		return
	}
	m.admitted.Inc()
	m.inFlight.Inc()
	m.queueWait.Observe(wait.Seconds())
}

// Released records a permit returned to the pool.
func (m *Metrics) Released() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// Rejected records an overload rejection.
func (m *Metrics) Rejected(wait time.Duration) {
	if m == nil {
		return
	}
	m.rejected.Inc()
	m.queueWait.Observe(wait.Seconds())
}

// Selected records an arm selection.
func (m *Metrics) Selected(armID string, explored bool) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(armID, strconv.FormatBool(explored)).Inc()
}

// NoArms records a selection that found no candidates.
func (m *Metrics) NoArms(capability, model string) {
	if m == nil {
		return
	}
	m.noArms.WithLabelValues(capability, model).Inc()
}

// Reported records an outcome applied to an arm.
func (m *Metrics) Reported(armID string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.reports.WithLabelValues(armID, outcome).Inc()
}

// Conflict records a dropped stats update.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// StepAttempt records the duration and status of one step attempt.
func (m *Metrics) StepAttempt(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

// WorkflowFinished records the terminal state of a workflow.
func (m *Metrics) WorkflowFinished(state string) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(state).Inc()
}

// StreamSkipped adds n dropped stream lines.
func (m *Metrics) StreamSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamSkipped.Add(float64(n))
}

// QuotaConsumed records units taken on the fast path.
func (m *Metrics) QuotaConsumed(ledger string, amount int64) {
	if m == nil {
		return
	}
	m.quotaConsumed.WithLabelValues(ledger).Add(float64(amount))
}

// QuotaRejected records a refused consumption.
func (m *Metrics) QuotaRejected(ledger string) {
	if m == nil {
		return
	}
	m.quotaRejected.WithLabelValues(ledger).Inc()
}

// QuotaSynced records units applied to the durable ledger.
func (m *Metrics) QuotaSynced(ledger string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.quotaSynced.WithLabelValues(ledger).Add(float64(amount))
}

// QuotaSyncFailed records a failed reconciliation.
func (m *Metrics) QuotaSyncFailed(ledger string) {
	if m == nil {
		return
	}
	m.quotaSyncErrors.WithLabelValues(ledger).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
