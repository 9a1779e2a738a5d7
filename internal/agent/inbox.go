// Copyright 2026 fanjia1024
// Per-agent system event inbox

package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-gateway/pkg/log"
)

// SystemEvent 注入到 agent 主会话的系统事件
type SystemEvent struct {
	ID        string
	AgentID   string
	Message   string
	WakeNow   bool
	CreatedAt time.Time
}

// DefaultInboxCapacity 单个 agent 收件箱的事件上限
const DefaultInboxCapacity = 256

// Inbox 按 agent 分组的系统事件收件箱。容量满时丢弃最旧的事件。
type Inbox struct {
	mu       sync.Mutex
	capacity int
	events   map[string][]SystemEvent

	// wake 在收到 WakeNow 事件时调用,可为 nil
	wake   func(agentID string)
	logger *log.Logger
}

// NewInbox 创建收件箱。capacity 非正时使用 DefaultInboxCapacity。
func NewInbox(capacity int, wake func(agentID string), logger *log.Logger) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{
		capacity: capacity,
		events:   make(map[string][]SystemEvent),
		wake:     wake,
		logger:   logger,
	}
}

// PushSystemEvent 投递一条系统事件。wakeNow 为 true 时立即通知 agent,
// 否则事件等待下一次心跳被取走。
func (b *Inbox) PushSystemEvent(ctx context.Context, agentID, message string, wakeNow bool) error {
	event := SystemEvent{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Message:   message,
		WakeNow:   wakeNow,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	queue := append(b.events[agentID], event)
	if len(queue) > b.capacity {
		dropped := len(queue) - b.capacity
		queue = queue[dropped:]
		b.logger.Warn("inbox overflow, dropping oldest events",
			"agent_id", agentID, "dropped", dropped)
	}
	b.events[agentID] = queue
	b.mu.Unlock()

	if wakeNow && b.wake != nil {
		b.wake(agentID)
	}
	return nil
}

// Drain 取走并清空指定 agent 的全部待处理事件
func (b *Inbox) Drain(agentID string) []SystemEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue := b.events[agentID]
	if len(queue) == 0 {
		return nil
	}
	delete(b.events, agentID)
	return queue
}

// Len 返回指定 agent 的待处理事件数
func (b *Inbox) Len(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[agentID])
}
