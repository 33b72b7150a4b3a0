package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 对话运行
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sreagent_runs_total",
			Help: "Total number of engine runs by team, mode and termination reason",
		},
		[]string{"team", "mode", "reason"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sreagent_run_duration_seconds",
			Help:    "Engine run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"team"},
	)

	RunEvents = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sreagent_run_events",
			Help:    "Number of turn events emitted per run",
			Buckets: prometheus.LinearBuckets(1, 2, 12),
		},
		[]string{"team"},
	)

	// 工具与交接
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sreagent_tool_calls_total",
			Help: "Total number of tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	HandoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sreagent_handoffs_total",
			Help: "Total number of agent hand-offs",
		},
		[]string{"from", "to"},
	)

	SinkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sreagent_sink_errors_total",
			Help: "Streaming sink callbacks that returned an error",
		},
	)

	// 会话
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sreagent_active_sessions",
			Help: "Number of conversation sessions held in memory",
		},
	)

	// 后端健康探测：1 表示可达，0 表示不可达
	BackendUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sreagent_backend_up",
			Help: "Whether an observability backend answered the last probe",
		},
		[]string{"backend"},
	)

	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sreagent_retention_deleted_total",
			Help: "Rows deleted by the retention pruner",
		},
		[]string{"table"},
	)
)

// RecordToolCall 记录一次工具调用结果。
func RecordToolCall(tool string, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
}
