// Copyright 2026 fanjia1024
// Periodic checkpoint archival and cleanup

package workflow

import (
	"context"
	"time"

	"agent-gateway/pkg/log"
	"agent-gateway/pkg/metrics"
	"agent-gateway/pkg/tracing"
)

const (
	// DefaultSweepInterval 清理周期
	DefaultSweepInterval = time.Hour
	// DefaultArchiveAfter 归档阈值,创建超过该时长且无待办的 checkpoint 被归档
	DefaultArchiveAfter = 24 * time.Hour
	// DefaultDeleteAfter 删除阈值,创建超过该时长的 checkpoint 被无条件删除
	DefaultDeleteAfter = 7 * 24 * time.Hour
)

// Sweeper 周期性归档与清理过期 checkpoint
type Sweeper struct {
	store        Store
	logger       *log.Logger
	interval     time.Duration
	archiveAfter time.Duration
	deleteAfter  time.Duration

	// now 可在测试中替换
	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper 创建清理器,非正的时长参数使用缺省值
func NewSweeper(store Store, logger *log.Logger, interval, archiveAfter, deleteAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if archiveAfter <= 0 {
		archiveAfter = DefaultArchiveAfter
	}
	if deleteAfter <= 0 {
		deleteAfter = DefaultDeleteAfter
	}
	return &Sweeper{
		store:        store,
		logger:       logger,
		interval:     interval,
		archiveAfter: archiveAfter,
		deleteAfter:  deleteAfter,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start 启动清理循环
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := s.SweepOnce(ctx); err != nil {
					s.logger.Error("checkpoint sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop 停止清理循环
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// SweepOnce 执行一轮清理。删除优先于归档:创建超过删除阈值的
// checkpoint 无论是否归档、是否仍有待办都直接删除;创建超过归档
// 阈值且没有待办子任务的被归档。阈值每轮按当前墙上时钟重算。
func (s *Sweeper) SweepOnce(ctx context.Context) (archived, deleted int, err error) {
	ctx, span := tracing.StartSweepSpan(ctx)
	defer span.End()

	now := s.now()
	deleteCutoff := now.Add(-s.deleteAfter).UnixMilli()
	archiveCutoff := now.Add(-s.archiveAfter).UnixMilli()

	all, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, cp := range all {
		switch {
		case cp.CreatedAt < deleteCutoff:
			if err := s.store.Delete(ctx, cp.ID); err != nil {
				s.logger.Error("failed to delete expired checkpoint",
					"checkpoint_id", cp.ID, "error", err)
				continue
			}
			metrics.CheckpointSweepTotal.WithLabelValues("deleted").Inc()
			deleted++
		case !cp.Archived && cp.CreatedAt < archiveCutoff && len(cp.Pending) == 0:
			cp.Archived = true
			if err := s.store.Put(ctx, cp); err != nil {
				s.logger.Error("failed to archive checkpoint",
					"checkpoint_id", cp.ID, "error", err)
				continue
			}
			metrics.CheckpointSweepTotal.WithLabelValues("archived").Inc()
			archived++
		}
	}

	if archived > 0 || deleted > 0 {
		s.logger.Info("checkpoint sweep finished", "archived", archived, "deleted", deleted)
	}
	return archived, deleted, nil
}
