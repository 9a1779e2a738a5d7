// Copyright 2026 fanjia1024

package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-gateway/pkg/log"
)

func putCheckpoint(t *testing.T, store *StoreMem, id string, createdAt time.Time, pending []string, archived bool) {
	t.Helper()
	cp := &Checkpoint{
		ID:         id,
		WorkflowID: testWorkflowID,
		Phase:      "working",
		Pending:    pending,
		Completed:  map[string]string{},
		Archived:   archived,
		CreatedAt:  createdAt.UnixMilli(),
		UpdatedAt:  createdAt.UnixMilli(),
	}
	require.NoError(t, store.Put(context.Background(), cp))
}

func TestSweepArchivesAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := NewStoreMem()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	putCheckpoint(t, store, "fresh", now.Add(-time.Hour), nil, false)
	putCheckpoint(t, store, "stale-complete", now.Add(-36*time.Hour), nil, false)
	putCheckpoint(t, store, "stale-pending", now.Add(-36*time.Hour), []string{"x", "y"}, false)
	putCheckpoint(t, store, "ancient", now.Add(-8*24*time.Hour), nil, false)
	putCheckpoint(t, store, "ancient-pending", now.Add(-8*24*time.Hour), []string{"x"}, false)
	putCheckpoint(t, store, "ancient-archived", now.Add(-9*24*time.Hour), nil, true)

	sweeper := NewSweeper(store, log.Nop(), 0, 0, 0)
	sweeper.now = func() time.Time { return now }

	archived, deleted, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.Equal(t, 3, deleted)

	fresh, _ := store.Get(ctx, "fresh")
	require.NotNil(t, fresh)
	assert.False(t, fresh.Archived)

	staleComplete, _ := store.Get(ctx, "stale-complete")
	require.NotNil(t, staleComplete)
	assert.True(t, staleComplete.Archived)

	// 还有待办的 checkpoint 不归档
	stalePending, _ := store.Get(ctx, "stale-pending")
	require.NotNil(t, stalePending)
	assert.False(t, stalePending.Archived)

	// 超过删除阈值后无条件删除,不论待办或归档状态
	for _, id := range []string{"ancient", "ancient-pending", "ancient-archived"} {
		gone, _ := store.Get(ctx, id)
		assert.Nil(t, gone, "checkpoint %s should be deleted", id)
	}
}

func TestSweepNeverEvictsInFlightWorkEarly(t *testing.T) {
	ctx := context.Background()
	store := NewStoreMem()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// 6 天前创建但仍有待办:多轮 sweep 都不得归档或删除
	putCheckpoint(t, store, "inflight", now.Add(-6*24*time.Hour), []string{"x"}, false)

	sweeper := NewSweeper(store, log.Nop(), 0, 0, 0)
	sweeper.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		archived, deleted, err := sweeper.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, archived)
		assert.Equal(t, 0, deleted)
	}

	cp, _ := store.Get(ctx, "inflight")
	require.NotNil(t, cp)
	assert.False(t, cp.Archived)
}

func TestSweepIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStoreMem()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	putCheckpoint(t, store, "stale-complete", now.Add(-36*time.Hour), nil, false)

	sweeper := NewSweeper(store, log.Nop(), 0, 0, 0)
	sweeper.now = func() time.Time { return now }

	archived, deleted, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.Equal(t, 0, deleted)

	archived, deleted, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
	assert.Equal(t, 0, deleted)
}
