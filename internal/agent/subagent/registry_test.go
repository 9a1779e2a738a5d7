// Copyright 2026 fanjia1024

package subagent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-gateway/pkg/errors"
	"agent-gateway/pkg/log"
)

const requesterKey = "agent:main:matrix:main"

type fakeExecutor struct {
	mu      sync.Mutex
	reqs    []TurnRequest
	block   chan struct{}
	result  TurnResult
	failErr error
}

func (f *fakeExecutor) RunTurn(ctx context.Context, req TurnRequest, cb Callbacks) (TurnResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block := f.block
	f.mu.Unlock()

	if cb.OnProgress != nil {
		cb.OnProgress(10, "starting")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return TurnResult{}, ctx.Err()
		}
	}
	if cb.OnUsage != nil {
		cb.OnUsage(10)
	}
	return f.result, f.failErr
}

func (f *fakeExecutor) requests() []TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TurnRequest(nil), f.reqs...)
}

func newTestRegistry(t *testing.T, exec Executor, cfg Config) (*Registry, chan *Run) {
	t.Helper()
	reg := NewRegistry(exec, cfg, log.Nop())
	done := make(chan *Run, 16)
	reg.SetAnnouncer(func(run *Run) { done <- run })
	t.Cleanup(reg.ResetForTests)
	return reg, done
}

func waitForRun(t *testing.T, done chan *Run) *Run {
	t.Helper()
	select {
	case run := <-done:
		return run
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to finish")
		return nil
	}
}

func TestSpawnRunsToCompletion(t *testing.T) {
	exec := &fakeExecutor{result: TurnResult{Output: "research summary", Tokens: 5}}
	reg, done := newTestRegistry(t, exec, Config{})

	run, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "summarize the findings",
		Label:        "  Research  ",
	})
	require.NoError(t, err)

	// label 大小写折叠并去除空白后进入子会话 key
	assert.Equal(t, "agent:main:subagent:research", run.ChildKey)
	assert.Equal(t, requesterKey, run.RequesterKey)
	assert.Equal(t, 1, run.Depth)
	assert.Nil(t, run.Outcome)

	finished := waitForRun(t, done)
	require.NotNil(t, finished.Outcome)
	assert.Equal(t, "ok", finished.Outcome.Status)
	assert.Equal(t, "research summary", finished.Output)
	assert.Equal(t, 15, finished.TokensUsed)
	require.NotNil(t, finished.EndedAt, "EndedAt must be set exactly when Outcome is set")
	require.NotNil(t, finished.StartedAt)
	require.NotNil(t, finished.Progress)
	assert.Equal(t, 10, finished.Progress.Percent)

	reqs := exec.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, run.ChildKey, reqs[0].SessionKey)
	assert.Equal(t, "summarize the findings", reqs[0].Prompt)
}

func TestSpawnGeneratesUUIDLabel(t *testing.T) {
	reg, done := newTestRegistry(t, &fakeExecutor{}, Config{})

	run, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	require.NoError(t, err)
	waitForRun(t, done)

	assert.NotEmpty(t, run.Label)
	assert.Equal(t, "agent:main:subagent:"+run.Label, run.ChildKey)
}

func TestSpawnRecordsFailure(t *testing.T) {
	exec := &fakeExecutor{failErr: fmt.Errorf("model unavailable")}
	reg, done := newTestRegistry(t, exec, Config{})

	_, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	require.NoError(t, err)

	finished := waitForRun(t, done)
	require.NotNil(t, finished.Outcome)
	assert.Equal(t, "error", finished.Outcome.Status)
	assert.Contains(t, finished.Outcome.Error, "model unavailable")
}

func TestSpawnRejectsMismatchedSessionKey(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeExecutor{}, Config{})

	_, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
		SessionKey:   "agent:other:subagent:foo",
	})
	assert.ErrorIs(t, err, errors.ErrAgentMismatch)

	// 被拒绝的请求不得留下注册表记录
	_, err = reg.GetRunBySessionKey("agent:other:subagent:foo")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSpawnAcceptsMatchingExplicitKey(t *testing.T) {
	reg, done := newTestRegistry(t, &fakeExecutor{}, Config{})

	run, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
		SessionKey:   "agent:Main:subagent:Worker-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent:main:subagent:worker-1", run.ChildKey)
	waitForRun(t, done)
}

func TestSpawnRejectsInvalidRequesterKey(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeExecutor{}, Config{})

	_, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: "bogus",
		Task:         "task",
	})
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
}

func TestSpawnDepthLimit(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	defer close(exec.block)
	reg, _ := newTestRegistry(t, exec, Config{MaxSpawnDepth: 1})

	first, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	require.NoError(t, err)

	// 子会话再派生会超出深度上限
	_, err = reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: first.ChildKey,
		Task:         "nested task",
	})
	assert.ErrorIs(t, err, errors.ErrForbidden)
}

func TestSpawnChildrenLimit(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	defer close(exec.block)
	reg, done := newTestRegistry(t, exec, Config{MaxChildren: 2})

	for i := 0; i < 2; i++ {
		_, err := reg.Spawn(context.Background(), SpawnRequest{
			RequesterKey: requesterKey,
			Task:         "task",
		})
		require.NoError(t, err)
	}

	_, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	assert.ErrorIs(t, err, errors.ErrForbidden)

	// 终止一个活跃子任务后应当可以继续派生
	runs := reg.List(requesterKey)
	require.Len(t, runs, 2)
	require.NoError(t, reg.Abort(runs[0].RunID, requesterKey))
	waitForRun(t, done)

	_, err = reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	assert.NoError(t, err)
}

func TestAbortOwnershipAndIdempotence(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	defer close(exec.block)
	reg, done := newTestRegistry(t, exec, Config{})

	run, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	require.NoError(t, err)

	err = reg.Abort(run.RunID, "agent:intruder:matrix:main")
	assert.ErrorIs(t, err, errors.ErrForbidden)

	require.NoError(t, reg.Abort(run.RunID, requesterKey))
	aborted := waitForRun(t, done)
	require.NotNil(t, aborted.Outcome)
	assert.Equal(t, "error", aborted.Outcome.Status)
	assert.Equal(t, "Aborted by parent agent", aborted.Outcome.Error)
	require.NotNil(t, aborted.EndedAt)

	// 重复终止返回 ErrAlreadyEnded,终态保持不变
	err = reg.Abort(run.RunID, requesterKey)
	assert.ErrorIs(t, err, errors.ErrAlreadyEnded)
	got, err := reg.Get(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Aborted by parent agent", got.Outcome.Error)
}

func TestAbortUnknownRun(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeExecutor{}, Config{})
	err := reg.Abort("missing", requesterKey)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestGetRunBySessionKey(t *testing.T) {
	exec := &fakeExecutor{}
	reg, done := newTestRegistry(t, exec, Config{})

	run, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	require.NoError(t, err)
	waitForRun(t, done)

	found, err := reg.GetRunBySessionKey(run.ChildKey)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, found.RunID)

	_, err = reg.GetRunBySessionKey("agent:main:subagent:nonexistent")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestWaitBlocksUntilTerminal(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{}), result: TurnResult{Output: "done"}}
	reg, _ := newTestRegistry(t, exec, Config{})

	run, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "task",
	})
	require.NoError(t, err)

	// 运行未结束时 Wait 随 ctx 超时返回
	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = reg.Wait(shortCtx, run.RunID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(exec.block)
	finished, err := reg.Wait(context.Background(), run.RunID)
	require.NoError(t, err)
	require.NotNil(t, finished.Outcome)
	assert.Equal(t, "ok", finished.Outcome.Status)
	assert.Equal(t, "done", finished.Output)
}

func TestWaitUnknownRun(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeExecutor{}, Config{})
	_, err := reg.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSpawnCarriesUnsafeFlagToExecutor(t *testing.T) {
	exec := &fakeExecutor{}
	reg, done := newTestRegistry(t, exec, Config{})

	_, err := reg.Spawn(context.Background(), SpawnRequest{
		RequesterKey: requesterKey,
		Task:         "summarize the feed",
		AllowUnsafe:  true,
	})
	require.NoError(t, err)
	waitForRun(t, done)

	reqs := exec.requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].AllowUnsafe)
}
