// Copyright 2026 fanjia1024
// Job persistence interface and in-memory implementation

package cron

import (
	"context"
	"sync"
)

// JobStore 定时任务持久化接口
type JobStore interface {
	// Save 保存或覆盖任务
	Save(ctx context.Context, job *Job) error

	// Delete 删除任务,不存在时不报错
	Delete(ctx context.Context, jobID string) error

	// LoadAll 加载全部任务,用于启动恢复
	LoadAll(ctx context.Context) ([]*Job, error)
}

// JobStoreMem 内存任务存储,进程重启后数据丢失
type JobStoreMem struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStoreMem 创建内存任务存储
func NewJobStoreMem() *JobStoreMem {
	return &JobStoreMem{jobs: make(map[string]*Job)}
}

// Save 保存或覆盖任务
func (s *JobStoreMem) Save(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.clone()
	return nil
}

// Delete 删除任务
func (s *JobStoreMem) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// LoadAll 加载全部任务
func (s *JobStoreMem) LoadAll(ctx context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.clone())
	}
	return out, nil
}
