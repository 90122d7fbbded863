package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	gatewayAttemptsTotal   *prometheus.CounterVec
	gatewayAttemptDuration *prometheus.HistogramVec
	poolExhaustedPairs     prometheus.Gauge
	poolExhaustedTotal     prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	activeConversations prometheus.Gauge

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			gatewayAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_attempts_total",
					Help: "Provider invocation attempts by model, credential slot and outcome.",
				},
				[]string{"model", "slot", "outcome"},
			),
			gatewayAttemptDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "gateway_attempt_duration_seconds",
					Help:    "Provider invocation attempt latency in seconds by model and outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model", "outcome"},
			),
			poolExhaustedPairs: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pool_exhausted_pairs",
					Help: "Number of model/credential pairs currently marked exhausted.",
				},
			),
			poolExhaustedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pool_exhausted_total",
					Help: "Times the whole model/credential pool was found exhausted.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Tool executions by tool name and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool name.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Conversation turns by owning handler and outcome.",
				},
				[]string{"handler", "outcome"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Conversation turn duration in seconds by owning handler.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"handler"},
			),
			activeConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_conversations",
					Help: "Current active conversation count.",
				},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
		}

		prometheus.MustRegister(
			m.gatewayAttemptsTotal,
			m.gatewayAttemptDuration,
			m.poolExhaustedPairs,
			m.poolExhaustedTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.turnTotal,
			m.turnDuration,
			m.activeConversations,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call multiple times.
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordGatewayAttempt records one provider invocation attempt.
func RecordGatewayAttempt(model string, slot int, duration time.Duration, outcome string) {
	m := getMetrics()
	m.gatewayAttemptsTotal.WithLabelValues(model, strconv.Itoa(slot), outcome).Inc()
	m.gatewayAttemptDuration.WithLabelValues(model, outcome).Observe(duration.Seconds())
}

// SetExhaustedPairs sets the current exhausted pair count.
func SetExhaustedPairs(n int) {
	getMetrics().poolExhaustedPairs.Set(float64(n))
}

// RecordPoolExhausted counts a whole-pool exhaustion event.
func RecordPoolExhausted() {
	getMetrics().poolExhaustedTotal.Inc()
}

// RecordToolExecution records a tool execution.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "success"
	if !success {
		status = "error"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTurn records a completed conversation turn.
func RecordTurn(handler string, duration time.Duration, outcome string) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(handler, outcome).Inc()
	m.turnDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// SetActiveConversations sets the active conversation gauge.
func SetActiveConversations(n int) {
	getMetrics().activeConversations.Set(float64(n))
}

// SetQueueSize sets the queue size gauge for a lane.
func SetQueueSize(lane string, size int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(size))
}

// RecordEnqueue counts an enqueue operation.
func RecordEnqueue(lane string) {
	getMetrics().enqueueTotal.WithLabelValues(lane).Inc()
}

// RecordDequeue counts a completed task.
func RecordDequeue(lane string, status string) {
	getMetrics().dequeueTotal.WithLabelValues(lane, status).Inc()
}
