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
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"agent-gateway/pkg/errors"
	"agent-gateway/pkg/log"
	"agent-gateway/pkg/metrics"
)

// DefaultMaxTimerDelay 定时器单次休眠上限。即使最近的任务在很远的将来,
// 调度循环也会每分钟醒来一次,吸收外部时钟调整。
const DefaultMaxTimerDelay = 60 * time.Second

// Settings 调度器可调参数,零值字段取缺省
type Settings struct {
	// MaxTimerDelay 定时器单次休眠上限,缺省 DefaultMaxTimerDelay
	MaxTimerDelay time.Duration
	// DefaultAgentID 任务未指定 agent 时使用的 agent id,缺省 "main"
	DefaultAgentID string
	// DispatchJitter 触发后分发前的随机延迟上限,0 表示关闭
	DispatchJitter time.Duration
}

// Scheduler 定时任务调度器,单 goroutine 唤醒循环驱动
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job

	store        JobStore
	dispatcher   Dispatcher
	logger       *log.Logger
	maxDelay     time.Duration
	defaultAgent string
	jitter       time.Duration

	// now 可在测试中替换
	now func() time.Time

	wakeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(store JobStore, dispatcher Dispatcher, logger *log.Logger, settings Settings) *Scheduler {
	if settings.MaxTimerDelay <= 0 {
		settings.MaxTimerDelay = DefaultMaxTimerDelay
	}
	if settings.DefaultAgentID == "" {
		settings.DefaultAgentID = "main"
	}
	return &Scheduler{
		jobs:         make(map[string]*Job),
		store:        store,
		dispatcher:   dispatcher,
		logger:       logger,
		maxDelay:     settings.MaxTimerDelay,
		defaultAgent: settings.DefaultAgentID,
		jitter:       settings.DispatchJitter,
		now:          time.Now,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start 从存储恢复任务并启动唤醒循环。重复调用会报错。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.restore(ctx); err != nil {
		return err
	}

	go s.loop(ctx)
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// restore 加载持久化任务并重算触发时刻。重复启动是幂等的:
// 已经触发过的单次任务不会再次入队。
func (s *Scheduler) restore(ctx context.Context) error {
	jobs, err := s.store.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to restore jobs")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		var lastRun time.Time
		if job.LastRunAt != nil {
			lastRun = *job.LastRunAt
		}
		if next, ok := job.Schedule.NextRun(now, lastRun); ok {
			job.NextRunAt = &next
		} else {
			job.NextRunAt = nil
		}
		job.running = false
		s.jobs[job.ID] = job
	}
	return nil
}

// Stop 停止唤醒循环并等待在途任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	close(s.stopCh)
	<-s.doneCh
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Wake 提前唤醒调度循环重算下一次休眠时长
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		timer := time.NewTimer(s.armDelay())
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// armDelay 计算到最近一次触发的休眠时长,夹在 [0, maxDelay] 区间内
func (s *Scheduler) armDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	delay := s.maxDelay
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRunAt == nil || job.running {
			continue
		}
		d := job.NextRunAt.Sub(now)
		if d < delay {
			delay = d
		}
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// fireDue 触发所有到期任务。每个任务在独立 goroutine 中分发,
// 单个任务失败不影响同批其他任务。
func (s *Scheduler) fireDue(ctx context.Context) {
	start := s.now()
	defer func() {
		metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds())
	}()

	now := start
	var fired []*Job

	s.mu.Lock()
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRunAt == nil || job.running {
			continue
		}
		if job.NextRunAt.After(now) {
			continue
		}
		s.advanceLocked(job, now)
		job.running = true
		fired = append(fired, job.clone())
	}
	s.mu.Unlock()

	for _, snapshot := range fired {
		if err := s.store.Save(ctx, snapshot); err != nil {
			s.logger.Error("failed to persist fired job", "job_id", snapshot.ID, "error", err)
		}
		s.wg.Add(1)
		go s.runJob(ctx, snapshot)
	}
}

// advanceLocked 记录本次触发并推进调度,调用方必须持有锁
func (s *Scheduler) advanceLocked(job *Job, now time.Time) {
	t := now
	job.LastRunAt = &t
	job.RunCount++
	job.UpdatedAt = now
	if next, ok := job.Schedule.NextRun(now, now); ok {
		job.NextRunAt = &next
	} else {
		job.NextRunAt = nil
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.finishRun(ctx, job.ID, fmt.Errorf("dispatch panicked: %v", r))
		}
	}()
	if d := s.jitterDelay(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	s.finishRun(ctx, job.ID, s.dispatcher.Dispatch(ctx, job))
}

// jitterDelay 返回 [0, jitter) 的随机延迟,把同一 tick 触发的任务错开
func (s *Scheduler) jitterDelay() time.Duration {
	if s.jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(s.jitter)))
}

// finishRun 记录任务执行结果。任务可能在执行期间被删除,此时结果直接丢弃。
func (s *Scheduler) finishRun(ctx context.Context, jobID string, runErr error) {
	status := RunOK
	if runErr != nil {
		status = RunError
	}
	metrics.JobFireTotal.WithLabelValues(string(status)).Inc()

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	job.running = false
	job.LastStatus = status
	if runErr != nil {
		job.LastError = runErr.Error()
	} else {
		job.LastError = ""
	}
	job.UpdatedAt = s.now()
	snapshot := job.clone()
	s.mu.Unlock()

	if runErr != nil {
		s.logger.Error("job run failed", "job_id", jobID, "error", runErr)
	}
	if err := s.store.Save(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist job result", "job_id", jobID, "error", err)
	}
	s.Wake()
}

// Add 创建任务并入队。未指定 agent 的任务归属调度器的缺省 agent。
func (s *Scheduler) Add(ctx context.Context, spec JobSpec) (*Job, error) {
	if spec.AgentID == "" {
		spec.AgentID = s.defaultAgent
	}
	job, err := NewJob(spec, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, errors.Wrap(err, "failed to save job")
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	snapshot := job.clone()
	s.mu.Unlock()

	s.Wake()
	s.logger.Info("job added", "job_id", job.ID, "name", job.Name, "kind", string(job.Schedule.Kind))
	return snapshot, nil
}

// UpdateRequest 任务变更请求,nil 字段保持原值
type UpdateRequest struct {
	Name          *string
	Enabled       *bool
	Schedule      *Schedule
	SessionTarget *SessionTarget
	WakeMode      *WakeMode
	Payload       *Payload
}

// Update 修改任务并重算触发时刻
func (s *Scheduler) Update(ctx context.Context, jobID string, req UpdateRequest) (*Job, error) {
	now := s.now()
	if req.Schedule != nil {
		if req.Schedule.Kind == ScheduleEvery && req.Schedule.Anchor.IsZero() {
			req.Schedule.Anchor = now
		}
		if err := req.Schedule.Validate(); err != nil {
			return nil, err
		}
	}
	if req.Payload != nil {
		if err := req.Payload.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}
	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if req.Payload != nil {
		job.Payload = *req.Payload
	}
	if req.SessionTarget != nil {
		job.SessionTarget = *req.SessionTarget
	}
	if req.WakeMode != nil {
		job.WakeMode = *req.WakeMode
	}
	lastRun := time.Time{}
	if req.Schedule != nil {
		// 调度变更后按新任务处理,忽略历史触发记录
		job.Schedule = *req.Schedule
	} else if job.LastRunAt != nil {
		lastRun = *job.LastRunAt
	}
	if next, ok := job.Schedule.NextRun(now, lastRun); ok {
		job.NextRunAt = &next
	} else {
		job.NextRunAt = nil
	}
	job.UpdatedAt = now
	snapshot := job.clone()
	s.mu.Unlock()

	if err := s.store.Save(ctx, snapshot); err != nil {
		return nil, errors.Wrap(err, "failed to save job")
	}
	s.Wake()
	return snapshot, nil
}

// Remove 删除任务。任务不存在时返回 ErrNotFound。
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	_, ok := s.jobs[jobID]
	if ok {
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}

	if err := s.store.Delete(ctx, jobID); err != nil {
		return errors.Wrap(err, "failed to delete job")
	}
	s.Wake()
	s.logger.Info("job removed", "job_id", jobID)
	return nil
}

// RunResult 手动触发的结果
type RunResult struct {
	Ran    bool
	Reason string
	Status RunStatus
}

// Run 手动触发任务并同步等待完成。force 为 true 时忽略到期时间与
// 禁用状态,且不推进调度;任务已在运行中时跳过本次触发。
func (s *Scheduler) Run(ctx context.Context, jobID string, force bool) (RunResult, error) {
	now := s.now()

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return RunResult{}, errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}
	if job.running {
		s.mu.Unlock()
		metrics.JobFireTotal.WithLabelValues(string(RunSkipped)).Inc()
		return RunResult{Ran: false, Reason: "already running", Status: RunSkipped}, nil
	}
	if !force {
		if !job.Enabled {
			s.mu.Unlock()
			return RunResult{Ran: false, Reason: "job disabled"}, nil
		}
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			s.mu.Unlock()
			return RunResult{Ran: false, Reason: "not due"}, nil
		}
		s.advanceLocked(job, now)
	} else {
		// 强制触发只记录执行,不推进调度
		t := now
		job.LastRunAt = &t
		job.RunCount++
		job.UpdatedAt = now
	}
	job.running = true
	snapshot := job.clone()
	s.mu.Unlock()

	if err := s.store.Save(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist fired job", "job_id", jobID, "error", err)
	}

	runErr := s.dispatcher.Dispatch(ctx, snapshot)
	s.finishRun(ctx, jobID, runErr)
	if runErr != nil {
		return RunResult{Ran: true, Status: RunError}, nil
	}
	return RunResult{Ran: true, Status: RunOK}, nil
}

// Get 返回任务快照
func (s *Scheduler) Get(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}
	return job.clone(), nil
}

// Jobs 返回全部任务快照,按名称排序
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SchedulerStatus 调度器汇总状态
type SchedulerStatus struct {
	// NextWakeAt 最近一次将触发的时刻,nil 表示当前没有待触发的任务
	NextWakeAt   *time.Time
	JobCount     int
	EnabledCount int
	RunningCount int
}

// Status 返回调度器汇总状态
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{JobCount: len(s.jobs)}
	for _, job := range s.jobs {
		if job.Enabled {
			st.EnabledCount++
		}
		if job.running {
			st.RunningCount++
		}
		if job.Enabled && job.NextRunAt != nil {
			if st.NextWakeAt == nil || job.NextRunAt.Before(*st.NextWakeAt) {
				t := *job.NextRunAt
				st.NextWakeAt = &t
			}
		}
	}
	return st
}
