// Copyright 2026 fanjia1024
// Scheduled job model

package cron

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-gateway/pkg/errors"
)

// PayloadKind 任务触发后投递的负载类型
type PayloadKind string

const (
	// PayloadSystemEvent 向 agent 主会话注入 system event
	PayloadSystemEvent PayloadKind = "system_event"
	// PayloadAgentTurn 发起一轮 agent 对话
	PayloadAgentTurn PayloadKind = "agent_turn"
)

// WakeMode system event 的唤醒策略
type WakeMode string

const (
	// WakeNow 立即唤醒 agent 处理
	WakeNow WakeMode = "now"
	// WakeNextHeartbeat 等待下一次心跳再处理
	WakeNextHeartbeat WakeMode = "next-heartbeat"
)

// SessionTarget 任务产出的会话去向
type SessionTarget string

const (
	// SessionMain 结果进入 agent 主会话
	SessionMain SessionTarget = "main"
	// SessionIsolated 结果进入一次性隔离会话
	SessionIsolated SessionTarget = "isolated"
)

// Payload 任务负载,按 Kind 取对应字段
type Payload struct {
	Kind PayloadKind `json:"kind"`

	// Text 事件文本(仅 Kind=system_event)
	Text string `json:"text,omitempty"`

	// Message 对话输入(仅 Kind=agent_turn)
	Message string `json:"message,omitempty"`
	// AllowUnsafeExternalContent 允许对话引用未经清洗的外部内容(仅 Kind=agent_turn)
	AllowUnsafeExternalContent bool `json:"allow_unsafe_external_content,omitempty"`
	// Deliver 是否将结果投递到外部渠道(仅 Kind=agent_turn)
	Deliver bool `json:"deliver,omitempty"`
	// Channel 投递渠道名称(仅 Deliver=true)
	Channel string `json:"channel,omitempty"`
	// To 投递目标地址(仅 Deliver=true)
	To string `json:"to,omitempty"`
}

// Validate 校验负载定义
func (p Payload) Validate() error {
	switch p.Kind {
	case PayloadSystemEvent:
		if strings.TrimSpace(p.Text) == "" {
			return errors.Wrap(errors.ErrInvalidArg, "system event text is empty")
		}
		return nil
	case PayloadAgentTurn:
		if strings.TrimSpace(p.Message) == "" {
			return errors.Wrap(errors.ErrInvalidArg, "agent turn message is empty")
		}
		if p.Deliver && (p.Channel == "" || p.To == "") {
			return errors.Wrap(errors.ErrInvalidArg, "delivery requires channel and target address")
		}
		return nil
	default:
		return errors.Wrapf(errors.ErrInvalidArg, "unknown payload kind %q", p.Kind)
	}
}

// RunStatus 最近一次触发的结果
type RunStatus string

const (
	// RunOK 触发成功
	RunOK RunStatus = "ok"
	// RunError 触发失败
	RunError RunStatus = "error"
	// RunSkipped 触发被跳过(任务已在运行中)
	RunSkipped RunStatus = "skipped"
)

// JobSpec 创建任务的输入
type JobSpec struct {
	Name          string        `json:"name"`
	AgentID       string        `json:"agent_id"`
	Schedule      Schedule      `json:"schedule"`
	SessionTarget SessionTarget `json:"session_target"`
	WakeMode      WakeMode      `json:"wake_mode"`
	Payload       Payload       `json:"payload"`
}

// Job 定时任务
type Job struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	AgentID string `json:"agent_id"`
	Enabled bool   `json:"enabled"`

	Schedule      Schedule      `json:"schedule"`
	SessionTarget SessionTarget `json:"session_target"`
	WakeMode      WakeMode      `json:"wake_mode"`
	Payload       Payload       `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// NextRunAt 下一次触发时刻,nil 表示不会再触发
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	// LastRunAt 最近一次触发时刻
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	LastStatus RunStatus `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	RunCount   int       `json:"run_count"`

	// running 标记任务是否正在执行,仅存在于内存,不做持久化
	running bool
}

// NewJob 根据 JobSpec 创建任务,补全缺省字段并计算首次触发时刻
func NewJob(spec JobSpec, now time.Time) (*Job, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "job name is empty")
	}
	if spec.Schedule.Kind == ScheduleEvery && spec.Schedule.Anchor.IsZero() {
		spec.Schedule.Anchor = now
	}
	if err := spec.Schedule.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Payload.Validate(); err != nil {
		return nil, err
	}
	if spec.SessionTarget == "" {
		spec.SessionTarget = SessionMain
	}
	if spec.SessionTarget != SessionMain && spec.SessionTarget != SessionIsolated {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "unknown session target %q", spec.SessionTarget)
	}
	if spec.WakeMode == "" {
		spec.WakeMode = WakeNextHeartbeat
	}
	if spec.WakeMode != WakeNow && spec.WakeMode != WakeNextHeartbeat {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "unknown wake mode %q", spec.WakeMode)
	}
	if spec.AgentID == "" {
		spec.AgentID = "main"
	}

	job := &Job{
		ID:            uuid.NewString(),
		Name:          spec.Name,
		AgentID:       spec.AgentID,
		Enabled:       true,
		Schedule:      spec.Schedule,
		SessionTarget: spec.SessionTarget,
		WakeMode:      spec.WakeMode,
		Payload:       spec.Payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if next, ok := spec.Schedule.NextRun(now, time.Time{}); ok {
		job.NextRunAt = &next
	}
	return job, nil
}

// clone 返回任务的深拷贝,时间指针单独复制
func (j *Job) clone() *Job {
	cp := *j
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		cp.NextRunAt = &t
	}
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		cp.LastRunAt = &t
	}
	return &cp
}
