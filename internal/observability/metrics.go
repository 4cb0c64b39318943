package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sqlask"

type moduleMetrics struct {
	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentSteps       prometheus.Histogram

	gatewayCallTotal    *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	queriesRejectedTotal  prometheus.Counter

	poolInUse     prometheus.Gauge
	poolIdle      prometheus.Gauge
	poolWaitTotal prometheus.Gauge

	httpRequestsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_runs_total",
					Help:      "Total agent runs by model and outcome (answer, fallback, error).",
				},
				[]string{"model", "outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Agent run wall time in seconds by model.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"model"},
			),
			agentSteps: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_steps",
					Help:      "Gateway round-trips used per agent run.",
					Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
				},
			),
			gatewayCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "gateway_calls_total",
					Help:      "Model gateway calls by provider and status (success, rate_limited, error).",
				},
				[]string{"provider", "status"},
			),
			gatewayCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "gateway_call_duration_seconds",
					Help:      "Model gateway call duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_executions_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			queriesRejectedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "queries_rejected_total",
					Help:      "Queries refused by the read-only sanitizer.",
				},
			),
			poolInUse: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "store_pool_in_use",
					Help:      "Database connections currently checked out.",
				},
			),
			poolIdle: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "store_pool_idle",
					Help:      "Idle database connections held by the pool.",
				},
			),
			poolWaitTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "store_pool_wait_count",
					Help:      "Cumulative number of connection checkouts that had to wait.",
				},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_requests_total",
					Help:      "HTTP requests by path and status code.",
				},
				[]string{"path", "code"},
			),
		}

		prometheus.MustRegister(
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentSteps,
			m.gatewayCallTotal,
			m.gatewayCallDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.queriesRejectedTotal,
			m.poolInUse,
			m.poolIdle,
			m.poolWaitTotal,
			m.httpRequestsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordAgentRun(model, outcome string, duration time.Duration, steps int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(model, outcome).Inc()
	m.agentRunDuration.WithLabelValues(model).Observe(duration.Seconds())
	m.agentSteps.Observe(float64(steps))
}

func RecordGatewayCall(provider, status string, duration time.Duration) {
	m := getMetrics()
	m.gatewayCallTotal.WithLabelValues(provider, status).Inc()
	m.gatewayCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordQueryRejected() {
	getMetrics().queriesRejectedTotal.Inc()
}

// SetPoolStats mirrors database/sql pool statistics into gauges.
func SetPoolStats(stats sql.DBStats) {
	m := getMetrics()
	m.poolInUse.Set(float64(stats.InUse))
	m.poolIdle.Set(float64(stats.Idle))
	m.poolWaitTotal.Set(float64(stats.WaitCount))
}

func RecordHTTPRequest(path string, code int) {
	getMetrics().httpRequestsTotal.WithLabelValues(path, strconv.Itoa(code)).Inc()
}
