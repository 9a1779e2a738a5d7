// Copyright 2026 fanjia1024
// PostgreSQL-backed checkpoint store

package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StorePG PostgreSQL checkpoint 存储
type StorePG struct {
	pool *pgxpool.Pool
}

// NewStorePG 创建 PostgreSQL checkpoint 存储并初始化表结构
func NewStorePG(ctx context.Context, dsn string) (*StorePG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	store := &StorePG{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *StorePG) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id          TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			phase       TEXT NOT NULL,
			pending     JSONB NOT NULL,
			completed   JSONB NOT NULL,
			shared_ctx  JSONB,
			archived    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow
			ON workflow_checkpoints (workflow_id, archived, updated_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure workflow_checkpoints schema: %w", err)
	}
	return nil
}

// Put 保存或覆盖 checkpoint
func (s *StorePG) Put(ctx context.Context, cp *Checkpoint) error {
	pending, err := json.Marshal(cp.Pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending subtasks: %w", err)
	}
	completed, err := json.Marshal(cp.Completed)
	if err != nil {
		return fmt.Errorf("failed to marshal completed subtasks: %w", err)
	}
	sharedCtx, err := json.Marshal(cp.SharedContext)
	if err != nil {
		return fmt.Errorf("failed to marshal shared context: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_checkpoints (
			id, workflow_id, phase, pending, completed, shared_ctx,
			archived, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			pending = EXCLUDED.pending,
			completed = EXCLUDED.completed,
			shared_ctx = EXCLUDED.shared_ctx,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at
	`,
		cp.ID, cp.WorkflowID, cp.Phase, pending, completed, sharedCtx,
		cp.Archived, cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// Get 按 ID 读取 checkpoint,不存在时返回 (nil, nil)
func (s *StorePG) Get(ctx context.Context, id string) (*Checkpoint, error) {
	rows, err := s.pool.Query(ctx, selectCheckpoint+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanCheckpoint(rows.Scan)
}

// Delete 删除 checkpoint
func (s *StorePG) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM workflow_checkpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", id, err)
	}
	return nil
}

// ListByWorkflow 列出工作流下未归档的 checkpoint
func (s *StorePG) ListByWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		selectCheckpoint+` WHERE workflow_id = $1 AND NOT archived ORDER BY updated_at DESC`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for %s: %w", workflowID, err)
	}
	defer rows.Close()
	return collectCheckpoints(rows)
}

// ListAll 列出全部 checkpoint
func (s *StorePG) ListAll(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := s.pool.Query(ctx, selectCheckpoint+` ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()
	return collectCheckpoints(rows)
}

// Close 关闭连接池
func (s *StorePG) Close() {
	s.pool.Close()
}

const selectCheckpoint = `
	SELECT id, workflow_id, phase, pending, completed, shared_ctx,
	       archived, created_at, updated_at
	FROM workflow_checkpoints`

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectCheckpoints(rows rowScanner) ([]*Checkpoint, error) {
	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoint rows: %w", err)
	}
	return out, nil
}

func scanCheckpoint(scan func(dest ...any) error) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		pending   []byte
		completed []byte
		sharedCtx []byte
	)
	if err := scan(
		&cp.ID, &cp.WorkflowID, &cp.Phase, &pending, &completed, &sharedCtx,
		&cp.Archived, &cp.CreatedAt, &cp.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
	}
	if err := json.Unmarshal(pending, &cp.Pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending subtasks: %w", err)
	}
	if err := json.Unmarshal(completed, &cp.Completed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed subtasks: %w", err)
	}
	if len(sharedCtx) > 0 {
		if err := json.Unmarshal(sharedCtx, &cp.SharedContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shared context: %w", err)
		}
	}
	return &cp, nil
}
