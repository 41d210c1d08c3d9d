package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	eventsTotal  *prometheus.CounterVec

	queueWait    prometheus.Histogram
	queueSize    prometheus.Gauge
	queueRejects prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolConfirmations     *prometheus.CounterVec

	questionsPending prometheus.Gauge
	questionsTotal   *prometheus.CounterVec

	storeOpsTotal    *prometheus.CounterVec
	storeOpsDuration *prometheus.HistogramVec

	channelMessages *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tandem_turns_total",
					Help: "Completed turns by provider and terminal event.",
				},
				[]string{"provider", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tandem_turn_duration_seconds",
					Help:    "Turn duration in seconds by provider.",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
				},
				[]string{"provider"},
			),
			eventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tandem_agent_events_total",
					Help: "Agent events emitted by type.",
				},
				[]string{"type"},
			),
			queueWait: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "tandem_turn_queue_wait_seconds",
					Help:    "Time a turn waited for the session gate.",
					Buckets: prometheus.DefBuckets,
				},
			),
			queueSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tandem_turn_queue_size",
					Help: "Turns waiting for the session gate.",
				},
			),
			queueRejects: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tandem_turn_queue_rejected_total",
					Help: "Turns rejected because another turn was in progress.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tandem_tool_execution_total",
					Help: "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tandem_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolConfirmations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tandem_tool_confirmations_total",
					Help: "Confirmation decisions for mutating tool calls.",
				},
				[]string{"decision"},
			),
			questionsPending: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tandem_questions_pending",
					Help: "Outstanding ask-user questions (0 or 1).",
				},
			),
			questionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tandem_questions_total",
					Help: "Ask-user questions by outcome.",
				},
				[]string{"outcome"},
			),
			storeOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tandem_store_operations_total",
					Help: "Snapshot store operations by driver, operation and status.",
				},
				[]string{"driver", "op", "status"},
			),
			storeOpsDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tandem_store_operation_duration_seconds",
					Help:    "Snapshot store operation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"driver", "op"},
			),
			channelMessages: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tandem_channel_messages_total",
					Help: "Channel messages by channel and direction.",
				},
				[]string{"channel", "direction"},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.eventsTotal,
			m.queueWait,
			m.queueSize,
			m.queueRejects,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolConfirmations,
			m.questionsPending,
			m.questionsTotal,
			m.storeOpsTotal,
			m.storeOpsDuration,
			m.channelMessages,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordTurn(provider, terminal string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(provider, terminal).Inc()
	m.turnDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordEvent(eventType string) {
	getMetrics().eventsTotal.WithLabelValues(eventType).Inc()
}

func RecordQueueWait(wait time.Duration, queued int) {
	m := getMetrics()
	m.queueWait.Observe(wait.Seconds())
	m.queueSize.Set(float64(queued))
}

func SetQueueSize(queued int) {
	getMetrics().queueSize.Set(float64(queued))
}

func RecordQueueReject() {
	getMetrics().queueRejects.Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordConfirmation(approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	getMetrics().toolConfirmations.WithLabelValues(decision).Inc()
}

func SetQuestionPending(pending bool) {
	value := 0.0
	if pending {
		value = 1.0
	}
	getMetrics().questionsPending.Set(value)
}

func RecordQuestion(outcome string) {
	getMetrics().questionsTotal.WithLabelValues(outcome).Inc()
}

func RecordStoreOp(driver, op string, duration time.Duration, err error) {
	m := getMetrics()
	m.storeOpsTotal.WithLabelValues(driver, op, status(err == nil)).Inc()
	m.storeOpsDuration.WithLabelValues(driver, op).Observe(duration.Seconds())
}

func RecordChannelMessage(channel, direction string) {
	getMetrics().channelMessages.WithLabelValues(channel, direction).Inc()
}
