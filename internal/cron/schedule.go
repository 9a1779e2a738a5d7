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
	"time"

	robfig "github.com/robfig/cron/v3"

	"agent-gateway/pkg/errors"
)

// ScheduleKind 调度类型
type ScheduleKind string

const (
	// ScheduleCron cron 表达式调度
	ScheduleCron ScheduleKind = "cron"
	// ScheduleEvery 固定间隔调度
	ScheduleEvery ScheduleKind = "every"
	// ScheduleAt 单次定时调度
	ScheduleAt ScheduleKind = "at"
)

// Schedule 调度定义,按 Kind 取对应字段
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// Expr cron 表达式(仅 Kind=cron)
	Expr string `json:"expr,omitempty"`
	// TZ cron 表达式所用时区名称,空表示本地时区(仅 Kind=cron)
	TZ string `json:"tz,omitempty"`

	// Every 触发间隔(仅 Kind=every)
	Every time.Duration `json:"every,omitempty"`
	// Anchor 间隔序列的起点,由创建时刻固定(仅 Kind=every)
	Anchor time.Time `json:"anchor,omitempty"`

	// At 单次触发时刻(仅 Kind=at)
	At time.Time `json:"at,omitempty"`
}

var cronParser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// Validate 校验调度定义是否合法
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleCron:
		if s.Expr == "" {
			return errors.Wrap(errors.ErrInvalidSchedule, "cron expression is empty")
		}
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return errors.Wrapf(errors.ErrInvalidSchedule, "invalid cron expression %q: %v", s.Expr, err)
		}
		if s.TZ != "" {
			if _, err := time.LoadLocation(s.TZ); err != nil {
				return errors.Wrapf(errors.ErrInvalidSchedule, "unknown timezone %q", s.TZ)
			}
		}
		return nil
	case ScheduleEvery:
		if s.Every <= 0 {
			return errors.Wrap(errors.ErrInvalidSchedule, "interval must be positive")
		}
		return nil
	case ScheduleAt:
		if s.At.IsZero() {
			return errors.Wrap(errors.ErrInvalidSchedule, "one-shot time is not set")
		}
		return nil
	default:
		return errors.Wrapf(errors.ErrInvalidSchedule, "unknown schedule kind %q", s.Kind)
	}
}

// NextRun 计算下一次触发时刻。lastRun 为零值表示任务从未触发过。
// 返回 false 表示该调度不会再触发。
func (s Schedule) NextRun(now, lastRun time.Time) (time.Time, bool) {
	switch s.Kind {
	case ScheduleCron:
		sched, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false
		}
		base := now
		if s.TZ != "" {
			if loc, err := time.LoadLocation(s.TZ); err == nil {
				base = base.In(loc)
			}
		}
		return sched.Next(base), true
	case ScheduleEvery:
		base := now
		if lastRun.After(base) {
			base = lastRun
		}
		anchor := s.Anchor
		if anchor.IsZero() {
			anchor = now
		}
		if anchor.After(base) {
			return anchor, true
		}
		// 对齐到 anchor 之后的下一个间隔边界
		elapsed := base.Sub(anchor)
		steps := elapsed/s.Every + 1
		return anchor.Add(steps * s.Every), true
	case ScheduleAt:
		if !lastRun.IsZero() {
			return time.Time{}, false
		}
		return s.At, true
	default:
		return time.Time{}, false
	}
}
