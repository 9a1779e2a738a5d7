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

package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-gateway/pkg/errors"
	"agent-gateway/pkg/log"
)

// Manager 工作流 checkpoint 管理器。多步骤批处理通过 checkpoint 记录
// 进度阶段、待办子任务与已完成结果,进程崩溃或重启后可据此恢复。
type Manager struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewManager 创建 checkpoint 管理器
func NewManager(store Store, logger *log.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (m *Manager) nowMs() int64 {
	return m.now().UnixMilli()
}

// Create 创建 checkpoint 并立即持久化
func (m *Manager) Create(ctx context.Context, workflowID, phase string, pendingSubtaskIDs []string, sharedContext map[string]string) (*Checkpoint, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "workflow id is empty")
	}

	pending := make([]string, len(pendingSubtaskIDs))
	copy(pending, pendingSubtaskIDs)

	now := m.nowMs()
	cp := &Checkpoint{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Phase:      phase,
		Pending:    pending,
		Completed:  make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(sharedContext) > 0 {
		cp.SharedContext = make(map[string]string, len(sharedContext))
		for k, v := range sharedContext {
			cp.SharedContext[k] = v
		}
	}
	if err := m.store.Put(ctx, cp); err != nil {
		return nil, errors.Wrap(err, "failed to save checkpoint")
	}
	m.logger.Info("checkpoint created",
		"checkpoint_id", cp.ID, "workflow_id", workflowID, "pending", len(pending))
	return cp.clone(), nil
}

// RecordSubtaskCompletion 将子任务从待办移入已完成并记录结果。
// 子任务不在待办列表中时仍会记录结果,待办列表保持不变。
func (m *Manager) RecordSubtaskCompletion(ctx context.Context, checkpointID, subtaskID, result string) (*Checkpoint, error) {
	cp, err := m.store.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "checkpoint %s", checkpointID)
	}

	for i, id := range cp.Pending {
		if id == subtaskID {
			cp.Pending = append(cp.Pending[:i], cp.Pending[i+1:]...)
			break
		}
	}
	if cp.Completed == nil {
		cp.Completed = make(map[string]string)
	}
	cp.Completed[subtaskID] = result
	cp.UpdatedAt = m.nowMs()

	if err := m.store.Put(ctx, cp); err != nil {
		return nil, errors.Wrap(err, "failed to save checkpoint")
	}
	return cp.clone(), nil
}

// UpdateContext 浅合并上下文键值对,同名键被覆盖
func (m *Manager) UpdateContext(ctx context.Context, checkpointID string, partial map[string]string) (*Checkpoint, error) {
	cp, err := m.store.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "checkpoint %s", checkpointID)
	}

	if cp.SharedContext == nil {
		cp.SharedContext = make(map[string]string, len(partial))
	}
	for k, v := range partial {
		cp.SharedContext[k] = v
	}
	cp.UpdatedAt = m.nowMs()

	if err := m.store.Put(ctx, cp); err != nil {
		return nil, errors.Wrap(err, "failed to save checkpoint")
	}
	return cp.clone(), nil
}

// Get 按 ID 读取 checkpoint,不存在时返回 (nil, nil)
func (m *Manager) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	return m.store.Get(ctx, checkpointID)
}

// List 列出工作流下未归档的 checkpoint,按更新时间降序
func (m *Manager) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	return m.store.ListByWorkflow(ctx, workflowID)
}

// ListAll 列出全部 checkpoint,含已归档
func (m *Manager) ListAll(ctx context.Context) ([]*Checkpoint, error) {
	return m.store.ListAll(ctx)
}

// Latest 返回工作流下最近更新的未归档 checkpoint,没有时返回 (nil, nil)。
// 同一工作流因重试产生多个 checkpoint 时,以最近更新的为准。
func (m *Manager) Latest(ctx context.Context, workflowID string) (*Checkpoint, error) {
	cps, err := m.store.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}
	return cps[0], nil
}

// ResumePlan 重试失败工作流的标准输入,所有字段都是快照副本
type ResumePlan struct {
	// IncompleteSubtaskIDs 需要重新派发的子任务
	IncompleteSubtaskIDs []string
	// CompletedResults 已完成子任务的结果,用于填充初始状态
	CompletedResults map[string]string
	// SharedContext checkpoint 中记录的共享上下文
	SharedContext map[string]string
	// Checkpoint 计划来源的 checkpoint 快照
	Checkpoint *Checkpoint
}

// PrepareResumePlan 基于 checkpoint 构造恢复计划。
// checkpoint 不存在时返回 (nil, nil)。
func (m *Manager) PrepareResumePlan(ctx context.Context, checkpointID string) (*ResumePlan, error) {
	cp, err := m.store.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}

	plan := &ResumePlan{
		IncompleteSubtaskIDs: make([]string, len(cp.Pending)),
		CompletedResults:     make(map[string]string, len(cp.Completed)),
		SharedContext:        make(map[string]string, len(cp.SharedContext)),
		Checkpoint:           cp.clone(),
	}
	copy(plan.IncompleteSubtaskIDs, cp.Pending)
	for k, v := range cp.Completed {
		plan.CompletedResults[k] = v
	}
	for k, v := range cp.SharedContext {
		plan.SharedContext[k] = v
	}
	return plan, nil
}

// Delete 删除 checkpoint
func (m *Manager) Delete(ctx context.Context, checkpointID string) error {
	return m.store.Delete(ctx, checkpointID)
}
