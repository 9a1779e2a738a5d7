// Copyright 2026 fanjia1024

package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-gateway/pkg/log"
)

func TestInboxPushAndDrain(t *testing.T) {
	inbox := NewInbox(0, nil, log.Nop())
	ctx := context.Background()

	require.NoError(t, inbox.PushSystemEvent(ctx, "main", "first", false))
	require.NoError(t, inbox.PushSystemEvent(ctx, "main", "second", false))
	require.NoError(t, inbox.PushSystemEvent(ctx, "other", "elsewhere", false))

	assert.Equal(t, 2, inbox.Len("main"))

	events := inbox.Drain("main")
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Message)
	assert.Equal(t, "second", events[1].Message)
	assert.Equal(t, 0, inbox.Len("main"))
	assert.Equal(t, 1, inbox.Len("other"))
}

func TestInboxWakeNowTriggersCallback(t *testing.T) {
	var woken []string
	inbox := NewInbox(0, func(agentID string) { woken = append(woken, agentID) }, log.Nop())
	ctx := context.Background()

	require.NoError(t, inbox.PushSystemEvent(ctx, "main", "quiet", false))
	assert.Empty(t, woken)

	require.NoError(t, inbox.PushSystemEvent(ctx, "main", "urgent", true))
	assert.Equal(t, []string{"main"}, woken)
}

func TestInboxOverflowDropsOldest(t *testing.T) {
	inbox := NewInbox(3, nil, log.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, inbox.PushSystemEvent(ctx, "main", fmt.Sprintf("event-%d", i), false))
	}

	events := inbox.Drain("main")
	require.Len(t, events, 3)
	assert.Equal(t, "event-2", events[0].Message)
	assert.Equal(t, "event-4", events[2].Message)
}

func TestInboxDrainEmpty(t *testing.T) {
	inbox := NewInbox(0, nil, log.Nop())
	assert.Nil(t, inbox.Drain("nobody"))
}
