package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，由 gatewayd 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		SchedulerTickDuration, JobFireTotal, DispatchFailTotal,
		CheckpointSweepTotal, SubagentActive, DeliveryTotal,
	)
}

// SchedulerTickDuration wake loop 单次 tick 耗时（秒）
var SchedulerTickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "gateway_scheduler_tick_seconds",
		Help:    "wake loop 单次 tick 耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// JobFireTotal Job 触发总数（按结果）
var JobFireTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_job_fire_total",
		Help: "Job 触发总数（按结果）",
	},
	[]string{"status"}, // ok | error | skipped
)

// DispatchFailTotal 派发失败总数（按 payload 类型）
var DispatchFailTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_dispatch_fail_total",
		Help: "派发失败总数",
	},
	[]string{"kind"}, // system_event | agent_turn
)

// CheckpointSweepTotal checkpoint 清理总数（按动作）
var CheckpointSweepTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_checkpoint_sweep_total",
		Help: "checkpoint 清理总数（archive/delete）",
	},
	[]string{"action"}, // archived | deleted
)

// SubagentActive 当前活跃 subagent run 数
var SubagentActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "gateway_subagent_active",
		Help: "当前活跃 subagent run 数",
	},
)

// DeliveryTotal 渠道投递总数（按渠道与结果）
var DeliveryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_delivery_total",
		Help: "渠道投递总数",
	},
	[]string{"channel", "ok"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
