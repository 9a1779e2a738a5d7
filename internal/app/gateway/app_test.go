// Copyright 2026 fanjia1024

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-gateway/internal/agent/subagent"
	"agent-gateway/internal/cron"
	"agent-gateway/internal/routing"
	"agent-gateway/pkg/config"
)

type echoExecutor struct{}

func (echoExecutor) RunTurn(ctx context.Context, req subagent.TurnRequest, cb subagent.Callbacks) (subagent.TurnResult, error) {
	return subagent.TurnResult{Output: "echo: " + req.Prompt}, nil
}

func memConfig() *config.Config {
	return &config.Config{
		Scheduler:  config.SchedulerConfig{DefaultAgentID: "main"},
		JobStore:   config.JobStoreConfig{Backend: "memory"},
		Checkpoint: config.CheckpointConfig{Backend: "memory"},
	}
}

func TestAppStartAndShutdown(t *testing.T) {
	app, err := NewApp(memConfig(), WithExecutor(echoExecutor{}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer func() { require.NoError(t, app.Shutdown(ctx)) }()

	assert.Equal(t, 0, app.Scheduler().Status().JobCount)
}

func TestForcedJobRunLandsInInbox(t *testing.T) {
	app, err := NewApp(memConfig(), WithExecutor(echoExecutor{}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Shutdown(ctx)

	job, err := app.Scheduler().Add(ctx, cron.JobSpec{
		Name:    "morning briefing",
		AgentID: "main",
		Schedule: cron.Schedule{
			Kind: cron.ScheduleAt,
			At:   time.Now().Add(time.Hour),
		},
		WakeMode: cron.WakeNow,
		Payload: cron.Payload{
			Kind: cron.PayloadSystemEvent,
			Text: "time for the morning briefing",
		},
	})
	require.NoError(t, err)

	result, err := app.Scheduler().Run(ctx, job.ID, true)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, cron.RunOK, result.Status)

	events := app.Inbox().Drain("main")
	require.Len(t, events, 1)
	assert.Equal(t, "time for the morning briefing", events[0].Message)
	assert.True(t, events[0].WakeNow)
}

func TestIsolatedTurnTrackedByRegistry(t *testing.T) {
	app, err := NewApp(memConfig(), WithExecutor(echoExecutor{}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Shutdown(ctx)

	job, err := app.Scheduler().Add(ctx, cron.JobSpec{
		Name:    "weekly digest",
		AgentID: "main",
		Schedule: cron.Schedule{
			Kind: cron.ScheduleAt,
			At:   time.Now().Add(time.Hour),
		},
		SessionTarget: cron.SessionIsolated,
		Payload: cron.Payload{
			Kind:    cron.PayloadAgentTurn,
			Message: "compile the weekly digest",
		},
	})
	require.NoError(t, err)

	result, err := app.Scheduler().Run(ctx, job.ID, true)
	require.NoError(t, err)
	require.True(t, result.Ran)
	assert.Equal(t, cron.RunOK, result.Status)

	// 隔离 turn 必须经注册表派生,以任务的 cron 会话 key 为请求方留下 Run 记录
	cronKey := routing.CronKey(job.AgentID, job.ID)
	runs := app.Subagents().List(cronKey)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Outcome)
	assert.Equal(t, "ok", runs[0].Outcome.Status)
	assert.Equal(t, "echo: compile the weekly digest", runs[0].Output)

	found, err := app.Subagents().GetRunBySessionKey(runs[0].ChildKey)
	require.NoError(t, err)
	assert.Equal(t, runs[0].RunID, found.RunID)
}

func TestSubagentOutcomeAnnouncedToParent(t *testing.T) {
	app, err := NewApp(memConfig(), WithExecutor(echoExecutor{}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Shutdown(ctx)

	run, err := app.Subagents().Spawn(ctx, subagent.SpawnRequest{
		RequesterKey: "agent:main:matrix:main",
		Task:         "collect release notes",
		Label:        "notes",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent:main:subagent:notes", run.ChildKey)

	require.Eventually(t, func() bool {
		return app.Inbox().Len("main") > 0
	}, 2*time.Second, 10*time.Millisecond)

	events := app.Inbox().Drain("main")
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "agent:main:subagent:notes")
	assert.Contains(t, events[0].Message, "ok")
}
