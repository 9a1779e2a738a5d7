// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cron

import (
	"context"

	"agent-gateway/internal/routing"
	"agent-gateway/pkg/errors"
	"agent-gateway/pkg/log"
	"agent-gateway/pkg/metrics"
	"agent-gateway/pkg/tracing"
)

// Dispatcher 将触发的任务负载投递出去
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
}

// EventSink 接收 system event 的 agent 收件箱
type EventSink interface {
	// PushSystemEvent 向 agent 主会话注入事件,wakeNow 为 true 时立即唤醒
	PushSystemEvent(ctx context.Context, agentID, message string, wakeNow bool) error
}

// TurnRunner 执行一轮 agent 对话
type TurnRunner interface {
	// RunTurn 以 requesterKey 为发起方运行一轮对话,返回结果文本
	RunTurn(ctx context.Context, req TurnRequest) (string, error)
}

// TurnRequest 一轮 agent 对话的请求
type TurnRequest struct {
	RequesterKey string
	AgentID      string
	Target       SessionTarget
	Message      string
	AllowUnsafe  bool
	Deliver      bool
	Channel      string
	To           string
}

// Deliverer 将对话结果投递到外部渠道
type Deliverer interface {
	Deliver(ctx context.Context, channel, to, text string) error
}

type dispatcher struct {
	events    EventSink
	turns     TurnRunner
	deliverer Deliverer
	logger    *log.Logger
}

// NewDispatcher 创建任务负载分发器。deliverer 可为 nil,此时 Deliver=true 的任务只记录日志。
func NewDispatcher(events EventSink, turns TurnRunner, deliverer Deliverer, logger *log.Logger) Dispatcher {
	return &dispatcher{
		events:    events,
		turns:     turns,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Dispatch 按负载类型分发
func (d *dispatcher) Dispatch(ctx context.Context, job *Job) error {
	ctx, span := tracing.StartDispatchSpan(ctx, job.ID, string(job.Payload.Kind))
	defer span.End()

	switch job.Payload.Kind {
	case PayloadSystemEvent:
		return d.dispatchSystemEvent(ctx, job)
	case PayloadAgentTurn:
		return d.dispatchAgentTurn(ctx, job)
	default:
		return errors.Wrapf(errors.ErrInvalidArg, "unknown payload kind %q", job.Payload.Kind)
	}
}

func (d *dispatcher) dispatchSystemEvent(ctx context.Context, job *Job) error {
	wakeNow := job.WakeMode == WakeNow
	if err := d.events.PushSystemEvent(ctx, job.AgentID, job.Payload.Text, wakeNow); err != nil {
		metrics.DispatchFailTotal.WithLabelValues("system_event").Inc()
		return errors.Wrapf(err, "failed to push system event for job %s", job.ID)
	}
	d.logger.Info("system event dispatched",
		"job_id", job.ID, "agent_id", job.AgentID, "wake_now", wakeNow)
	return nil
}

func (d *dispatcher) dispatchAgentTurn(ctx context.Context, job *Job) error {
	req := TurnRequest{
		RequesterKey: routing.CronKey(job.AgentID, job.ID),
		AgentID:      job.AgentID,
		Target:       job.SessionTarget,
		Message:      job.Payload.Message,
		AllowUnsafe:  job.Payload.AllowUnsafeExternalContent,
		Deliver:      job.Payload.Deliver,
		Channel:      job.Payload.Channel,
		To:           job.Payload.To,
	}

	result, err := d.turns.RunTurn(ctx, req)
	if err != nil {
		metrics.DispatchFailTotal.WithLabelValues("agent_turn").Inc()
		return errors.Wrapf(err, "failed to run agent turn for job %s", job.ID)
	}

	if job.Payload.Deliver && result != "" {
		if d.deliverer == nil {
			d.logger.Warn("job requested delivery but no deliverer is configured",
				"job_id", job.ID, "channel", job.Payload.Channel)
			return nil
		}
		if err := d.deliverer.Deliver(ctx, job.Payload.Channel, job.Payload.To, result); err != nil {
			// 投递失败不影响任务本身的执行结果
			d.logger.Error("failed to deliver agent turn result",
				"job_id", job.ID, "channel", job.Payload.Channel, "error", err)
		}
	}
	return nil
}
