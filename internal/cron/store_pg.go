// Copyright 2026 fanjia1024
// PostgreSQL-backed job store

package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// JobStorePG PostgreSQL 任务存储
type JobStorePG struct {
	pool *pgxpool.Pool
}

// NewJobStorePG 创建 PostgreSQL 任务存储并初始化表结构
func NewJobStorePG(ctx context.Context, dsn string) (*JobStorePG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	store := &JobStorePG{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *JobStorePG) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cron_jobs (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			agent_id    TEXT NOT NULL,
			enabled     BOOLEAN NOT NULL,
			schedule    JSONB NOT NULL,
			session_target TEXT NOT NULL,
			wake_mode   TEXT NOT NULL,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			next_run_at TIMESTAMPTZ,
			last_run_at TIMESTAMPTZ,
			last_status TEXT NOT NULL DEFAULT '',
			last_error  TEXT NOT NULL DEFAULT '',
			run_count   INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure cron_jobs schema: %w", err)
	}
	return nil
}

// Save 保存或覆盖任务
func (s *JobStorePG) Save(ctx context.Context, job *Job) error {
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cron_jobs (
			id, name, agent_id, enabled, schedule, session_target, wake_mode, payload,
			created_at, updated_at, next_run_at, last_run_at,
			last_status, last_error, run_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			agent_id = EXCLUDED.agent_id,
			enabled = EXCLUDED.enabled,
			schedule = EXCLUDED.schedule,
			session_target = EXCLUDED.session_target,
			wake_mode = EXCLUDED.wake_mode,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			last_status = EXCLUDED.last_status,
			last_error = EXCLUDED.last_error,
			run_count = EXCLUDED.run_count
	`,
		job.ID, job.Name, job.AgentID, job.Enabled, scheduleJSON,
		string(job.SessionTarget), string(job.WakeMode), payloadJSON,
		job.CreatedAt, job.UpdatedAt, job.NextRunAt, job.LastRunAt,
		string(job.LastStatus), job.LastError, job.RunCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// Delete 删除任务
func (s *JobStorePG) Delete(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cron_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

// LoadAll 加载全部任务
func (s *JobStorePG) LoadAll(ctx context.Context) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, agent_id, enabled, schedule, session_target, wake_mode, payload,
		       created_at, updated_at, next_run_at, last_run_at,
		       last_status, last_error, run_count
		FROM cron_jobs
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			job           Job
			scheduleJSON  []byte
			payloadJSON   []byte
			sessionTarget string
			wakeMode      string
			nextRunAt     *time.Time
			lastRunAt     *time.Time
			lastStatus    string
		)
		if err := rows.Scan(
			&job.ID, &job.Name, &job.AgentID, &job.Enabled, &scheduleJSON,
			&sessionTarget, &wakeMode, &payloadJSON,
			&job.CreatedAt, &job.UpdatedAt, &nextRunAt, &lastRunAt,
			&lastStatus, &job.LastError, &job.RunCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.SessionTarget = SessionTarget(sessionTarget)
		job.WakeMode = WakeMode(wakeMode)
		if err := json.Unmarshal(scheduleJSON, &job.Schedule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule for job %s: %w", job.ID, err)
		}
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for job %s: %w", job.ID, err)
		}
		job.NextRunAt = nextRunAt
		job.LastRunAt = lastRunAt
		job.LastStatus = RunStatus(lastStatus)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job rows: %w", err)
	}
	return jobs, nil
}

// Close 关闭连接池
func (s *JobStorePG) Close() {
	s.pool.Close()
}
