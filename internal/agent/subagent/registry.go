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

package subagent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-gateway/internal/routing"
	"agent-gateway/pkg/errors"
	"agent-gateway/pkg/log"
	"agent-gateway/pkg/metrics"
	"agent-gateway/pkg/tracing"
)

// Outcome 运行终态。Status 为 "ok" 或 "error"。
type Outcome struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Progress 运行中 agent 上报的进度
type Progress struct {
	Percent    int       `json:"percent"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
}

// Run 一次子 agent 运行。不变式:EndedAt 与 Outcome 同时存在。
type Run struct {
	RunID        string
	ChildKey     string
	RequesterKey string
	AgentID      string
	Task         string
	Label        string
	Depth        int

	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time

	Progress   *Progress
	TokensUsed int
	Outcome    *Outcome
	// Output 成功完成时执行器返回的结果文本
	Output string
}

func (r *Run) clone() *Run {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	if r.Progress != nil {
		p := *r.Progress
		cp.Progress = &p
	}
	if r.Outcome != nil {
		o := *r.Outcome
		cp.Outcome = &o
	}
	return &cp
}

// ended 判断运行是否已进入终态
func (r *Run) ended() bool {
	return r.Outcome != nil
}

// Config 子任务派生限制
type Config struct {
	// MaxChildren 单个请求方同时存在的活跃子任务上限
	MaxChildren int
	// MaxSpawnDepth 嵌套派生深度上限,1 表示只允许顶层会话派生
	MaxSpawnDepth int
	// RunTimeout 单次运行超时,非正表示不限
	RunTimeout time.Duration
}

// DefaultConfig 缺省派生限制
func DefaultConfig() Config {
	return Config{MaxChildren: 8, MaxSpawnDepth: 2, RunTimeout: 10 * time.Minute}
}

// SpawnRequest 派生子任务的请求
type SpawnRequest struct {
	// RequesterKey 请求方会话 key,子会话派生在同一 agent 命名空间下
	RequesterKey string
	// Task 子任务描述,作为子会话的首条输入
	Task string
	// Label 子会话标签,留空时使用随机 UUID
	Label string
	// SessionKey 显式指定完整子会话 key。指定时其中的 agent 必须与
	// 请求方一致,否则拒绝。
	SessionKey string
	// AllowUnsafe 允许子任务输入包含未消毒的外部内容
	AllowUnsafe bool
}

// Registry 子 agent 运行注册表。负责派生限制、生命周期跟踪与终止。
type Registry struct {
	mu   sync.Mutex
	runs map[string]*runEntry

	executor Executor
	config   Config
	logger   *log.Logger

	// announce 在运行进入终态时调用,可为 nil
	announce func(run *Run)
}

type runEntry struct {
	run         *Run
	cancel      context.CancelFunc
	allowUnsafe bool
	// done 在运行进入终态时关闭,供 Wait 阻塞
	done chan struct{}
}

// NewRegistry 创建注册表。cfg 的上限字段非正时使用 DefaultConfig 补全。
func NewRegistry(executor Executor, cfg Config, logger *log.Logger) *Registry {
	def := DefaultConfig()
	if cfg.MaxChildren <= 0 {
		cfg.MaxChildren = def.MaxChildren
	}
	if cfg.MaxSpawnDepth <= 0 {
		cfg.MaxSpawnDepth = def.MaxSpawnDepth
	}
	return &Registry{
		runs:     make(map[string]*runEntry),
		executor: executor,
		config:   cfg,
		logger:   logger,
	}
}

// SetAnnouncer 设置终态通知回调,需在首次 Spawn 前调用
func (r *Registry) SetAnnouncer(fn func(run *Run)) {
	r.announce = fn
}

// Spawn 派生子任务。请求方 key 无效返回 ErrInvalidArg,显式子会话 key
// 不属于请求方 agent 返回 ErrAgentMismatch,超出深度或并发上限返回
// ErrForbidden。被拒绝的请求不会留下任何注册表记录。
func (r *Registry) Spawn(ctx context.Context, req SpawnRequest) (*Run, error) {
	requesterKey := routing.NormalizeKey(req.RequesterKey)
	parsed := routing.ParseSessionKey(requesterKey)
	if parsed == nil {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "invalid requester session key %q", req.RequesterKey)
	}
	agentID := parsed.AgentID

	label := strings.ToLower(strings.TrimSpace(req.Label))
	var childKey string
	if req.SessionKey != "" {
		childKey = routing.NormalizeKey(req.SessionKey)
		if !routing.IsSubagentKey(childKey) {
			return nil, errors.Wrapf(errors.ErrInvalidArg, "explicit session key %q is not a subagent key", req.SessionKey)
		}
		if routing.AgentIDFromKey(childKey) != agentID {
			return nil, errors.Wrapf(errors.ErrAgentMismatch,
				"session key %q does not belong to agent %q", childKey, agentID)
		}
	} else {
		if label == "" {
			label = uuid.NewString()
		}
		childKey = routing.SubagentKey(agentID, label)
	}

	r.mu.Lock()
	depth := r.depthOfLocked(requesterKey) + 1
	if depth > r.config.MaxSpawnDepth {
		r.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrForbidden,
			"spawn depth %d exceeds limit %d", depth, r.config.MaxSpawnDepth)
	}
	if active := r.activeChildrenLocked(requesterKey); active >= r.config.MaxChildren {
		r.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrForbidden,
			"requester already has %d active subagents", active)
	}

	// 运行生命周期独立于 Spawn 调用方的 ctx
	base := context.WithoutCancel(ctx)
	var runCtx context.Context
	var cancel context.CancelFunc
	if r.config.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(base, r.config.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	run := &Run{
		RunID:        uuid.NewString(),
		ChildKey:     childKey,
		RequesterKey: requesterKey,
		AgentID:      agentID,
		Task:         req.Task,
		Label:        label,
		Depth:        depth,
		CreatedAt:    time.Now(),
	}
	r.runs[run.RunID] = &runEntry{
		run:         run,
		cancel:      cancel,
		allowUnsafe: req.AllowUnsafe,
		done:        make(chan struct{}),
	}
	snapshot := run.clone()
	r.mu.Unlock()

	metrics.SubagentActive.Inc()
	go r.execute(runCtx, run.RunID)

	r.logger.Info("subagent spawned",
		"run_id", run.RunID, "agent_id", agentID, "child_key", childKey, "depth", depth)
	return snapshot, nil
}

// depthOfLocked 推导请求方自身的派生深度。请求方 key 是某次运行的
// 子会话 key 时继承该运行的深度,否则视为顶层会话。
func (r *Registry) depthOfLocked(requesterKey string) int {
	for _, entry := range r.runs {
		if entry.run.ChildKey == requesterKey {
			return entry.run.Depth
		}
	}
	return 0
}

func (r *Registry) activeChildrenLocked(requesterKey string) int {
	n := 0
	for _, entry := range r.runs {
		if entry.run.RequesterKey == requesterKey && !entry.run.ended() {
			n++
		}
	}
	return n
}

func (r *Registry) execute(ctx context.Context, runID string) {
	defer metrics.SubagentActive.Dec()

	r.mu.Lock()
	entry, ok := r.runs[runID]
	if !ok || entry.run.ended() {
		r.mu.Unlock()
		return
	}
	started := time.Now()
	entry.run.StartedAt = &started
	req := TurnRequest{
		SessionKey:  entry.run.ChildKey,
		AgentID:     entry.run.AgentID,
		Prompt:      entry.run.Task,
		AllowUnsafe: entry.allowUnsafe,
	}
	r.mu.Unlock()

	ctx, span := tracing.StartSubagentSpan(ctx, runID, req.SessionKey)
	defer span.End()

	cb := Callbacks{
		OnProgress: func(percent int, status string) {
			r.mu.Lock()
			if entry, ok := r.runs[runID]; ok && !entry.run.ended() {
				entry.run.Progress = &Progress{
					Percent:    percent,
					Status:     status,
					LastUpdate: time.Now(),
				}
			}
			r.mu.Unlock()
		},
		OnUsage: func(tokens int) {
			r.mu.Lock()
			if entry, ok := r.runs[runID]; ok {
				entry.run.TokensUsed += tokens
			}
			r.mu.Unlock()
		},
	}

	result, err := func() (result TurnResult, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("executor panicked: %v", rec)
			}
		}()
		return r.executor.RunTurn(ctx, req, cb)
	}()

	r.finish(runID, result, err)
}

// finish 记录运行终态。已被 Abort 标记为终态的运行保持原状。
func (r *Registry) finish(runID string, result TurnResult, runErr error) {
	r.mu.Lock()
	entry, ok := r.runs[runID]
	if !ok || entry.run.ended() {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	entry.run.EndedAt = &now
	if runErr != nil {
		entry.run.Outcome = &Outcome{Status: "error", Error: runErr.Error()}
	} else {
		entry.run.Outcome = &Outcome{Status: "ok"}
		entry.run.TokensUsed += result.Tokens
		entry.run.Output = result.Output
	}
	close(entry.done)
	snapshot := entry.run.clone()
	r.mu.Unlock()

	if runErr != nil {
		r.logger.Error("subagent run failed", "run_id", runID, "error", runErr)
	} else {
		r.logger.Info("subagent run completed", "run_id", runID)
	}
	if r.announce != nil {
		r.announce(snapshot)
	}
}

// Abort 终止子任务。只有派生它的请求方可以终止;已终态的运行返回
// ErrAlreadyEnded 且终态保持不变,调用方可将其视为成功。
func (r *Registry) Abort(runID, requesterKey string) error {
	requesterKey = routing.NormalizeKey(requesterKey)

	r.mu.Lock()
	entry, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	if entry.run.RequesterKey != requesterKey {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrForbidden, "run %s is not owned by requester", runID)
	}
	if entry.run.ended() {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrAlreadyEnded, "run %s", runID)
	}
	now := time.Now()
	entry.run.Outcome = &Outcome{Status: "error", Error: "Aborted by parent agent"}
	entry.run.EndedAt = &now
	close(entry.done)
	cancel := entry.cancel
	snapshot := entry.run.clone()
	r.mu.Unlock()

	cancel()
	r.logger.Info("subagent run aborted", "run_id", runID)
	if r.announce != nil {
		r.announce(snapshot)
	}
	return nil
}

// Wait 阻塞到运行进入终态并返回终态快照,ctx 取消时提前返回
func (r *Registry) Wait(ctx context.Context, runID string) (*Run, error) {
	r.mu.Lock()
	entry, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	done := entry.done
	r.mu.Unlock()

	select {
	case <-done:
		return r.Get(runID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get 按运行 ID 查询快照
func (r *Registry) Get(runID string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[runID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	return entry.run.clone(), nil
}

// GetRunBySessionKey 按子会话 key 查询快照
func (r *Registry) GetRunBySessionKey(sessionKey string) (*Run, error) {
	sessionKey = routing.NormalizeKey(sessionKey)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.runs {
		if entry.run.ChildKey == sessionKey {
			return entry.run.clone(), nil
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "no run for session key %s", sessionKey)
}

// List 列出请求方名下的全部运行
func (r *Registry) List(requesterKey string) []*Run {
	requesterKey = routing.NormalizeKey(requesterKey)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Run
	for _, entry := range r.runs {
		if entry.run.RequesterKey == requesterKey {
			out = append(out, entry.run.clone())
		}
	}
	return out
}

// ResetForTests 清空全部运行记录,仅供测试使用
func (r *Registry) ResetForTests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.runs {
		entry.cancel()
		if !entry.run.ended() {
			close(entry.done)
		}
	}
	r.runs = make(map[string]*runEntry)
}
