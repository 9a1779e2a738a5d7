// Copyright 2026 fanjia1024
// Workflow checkpoint model and storage

package workflow

import (
	"context"
	"sort"
	"sync"
)

// Checkpoint 工作流检查点。时间戳统一使用 epoch 毫秒。
// 不变式:一个子任务 ID 只会出现在 Pending 与 Completed 之一。
type Checkpoint struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	// Phase 当前进度阶段的自由文本标签
	Phase string `json:"phase"`
	// Pending 尚未完成的子任务 ID,保持顺序
	Pending []string `json:"pending"`
	// Completed 子任务 ID 到结果摘要的映射
	Completed map[string]string `json:"completed"`
	// SharedContext 更新时合并而非替换的键值包
	SharedContext map[string]string `json:"shared_context,omitempty"`
	Archived      bool              `json:"archived"`
	CreatedAt     int64             `json:"created_at"`
	UpdatedAt     int64             `json:"updated_at"`
}

func (c *Checkpoint) clone() *Checkpoint {
	cp := *c
	if c.Pending != nil {
		cp.Pending = make([]string, len(c.Pending))
		copy(cp.Pending, c.Pending)
	}
	if c.Completed != nil {
		cp.Completed = make(map[string]string, len(c.Completed))
		for k, v := range c.Completed {
			cp.Completed[k] = v
		}
	}
	if c.SharedContext != nil {
		cp.SharedContext = make(map[string]string, len(c.SharedContext))
		for k, v := range c.SharedContext {
			cp.SharedContext[k] = v
		}
	}
	return &cp
}

// Store checkpoint 持久化接口
type Store interface {
	// Put 保存或覆盖 checkpoint
	Put(ctx context.Context, cp *Checkpoint) error

	// Get 按 ID 读取 checkpoint,不存在时返回 (nil, nil)
	Get(ctx context.Context, id string) (*Checkpoint, error)

	// Delete 删除 checkpoint,不存在时不报错
	Delete(ctx context.Context, id string) error

	// ListByWorkflow 列出工作流下未归档的 checkpoint,按 UpdatedAt 降序
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error)

	// ListAll 列出全部 checkpoint(含归档),按 UpdatedAt 降序
	ListAll(ctx context.Context) ([]*Checkpoint, error)
}

// StoreMem 内存 checkpoint 存储
type StoreMem struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewStoreMem 创建内存 checkpoint 存储
func NewStoreMem() *StoreMem {
	return &StoreMem{checkpoints: make(map[string]*Checkpoint)}
}

// Put 保存或覆盖 checkpoint
func (s *StoreMem) Put(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ID] = cp.clone()
	return nil
}

// Get 按 ID 读取 checkpoint
func (s *StoreMem) Get(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, nil
	}
	return cp.clone(), nil
}

// Delete 删除 checkpoint
func (s *StoreMem) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, id)
	return nil
}

// ListByWorkflow 列出工作流下未归档的 checkpoint
func (s *StoreMem) ListByWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Checkpoint
	for _, cp := range s.checkpoints {
		if cp.WorkflowID == workflowID && !cp.Archived {
			out = append(out, cp.clone())
		}
	}
	sortByUpdatedDesc(out)
	return out, nil
}

// ListAll 列出全部 checkpoint
func (s *StoreMem) ListAll(ctx context.Context) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp.clone())
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func sortByUpdatedDesc(cps []*Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if cps[i].UpdatedAt != cps[j].UpdatedAt {
			return cps[i].UpdatedAt > cps[j].UpdatedAt
		}
		return cps[i].ID < cps[j].ID
	})
}
