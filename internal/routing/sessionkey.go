// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package routing 提供 Session Key 的构造与解析。Key 文法：
// agent:<agentId>:<scope>[:<qualifier>...]，所有 qualifier 统一小写并去除空白，
// 保证逻辑相同的身份产生字节相同的 Key。
package routing

import (
	"fmt"
	"strings"
)

// DefaultAgentID 未显式指定 agent 时的默认 id
const DefaultAgentID = "main"

// DefaultChannel 未显式指定 channel 时的默认渠道
const DefaultChannel = "matrix"

// ChannelScope 渠道会话的归属粒度
type ChannelScope int

const (
	// ScopeAgent 同一 agent 的所有房间共享一个会话
	ScopeAgent ChannelScope = iota
	// ScopeRoom 每个房间一个会话
	ScopeRoom
	// ScopeDirect 私聊会话；私聊永不派生 thread 子 Key
	ScopeDirect
)

func (s ChannelScope) String() string {
	switch s {
	case ScopeAgent:
		return "agent"
	case ScopeRoom:
		return "room"
	case ScopeDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// NormalizeAgentID 规范化 agent id：trim + 小写，空值回落 DefaultAgentID
func NormalizeAgentID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return DefaultAgentID
	}
	return id
}

func normalizeQualifier(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// AgentMainKey 返回 agent 主会话 Key：agent:<id>:main
func AgentMainKey(agentID string) string {
	return "agent:" + NormalizeAgentID(agentID) + ":main"
}

// SubagentKey 返回 subagent 子会话 Key：agent:<id>:subagent:<label>
func SubagentKey(agentID, label string) string {
	return "agent:" + NormalizeAgentID(agentID) + ":subagent:" + normalizeQualifier(label)
}

// CronKey 返回定时任务的隔离会话 Key：agent:<id>:cron:<jobId>
func CronKey(agentID, jobID string) string {
	return "agent:" + NormalizeAgentID(agentID) + ":cron:" + normalizeQualifier(jobID)
}

// ChannelKeyInput 渠道会话 Key 的解析输入
type ChannelKeyInput struct {
	AgentID  string
	Channel  string // 空值回落 DefaultChannel
	Scope    ChannelScope
	Room     string // Scope=ScopeRoom 时必填
	User     string // Scope=ScopeDirect 时必填
	ThreadID string // 非空时派生 thread 子 Key（Direct 除外）
}

// Resolved 渠道会话 Key 解析结果；ParentKey 仅在派生 thread 子 Key 时非空
type Resolved struct {
	Key       string
	ParentKey string
}

// ResolveChannelKey 按归属粒度解析渠道会话 Key：
// per-agent 全部房间折叠为 agent:<id>:<channel>:main；per-room 每房间一个
// agent:<id>:<channel>:channel:<room>；私聊为 agent:<id>:<channel>:direct:<user>。
// thread 总是派生 <parent>:thread:<threadId> 子 Key 并记录 ParentKey，私聊除外。
func ResolveChannelKey(in ChannelKeyInput) (Resolved, error) {
	agentID := NormalizeAgentID(in.AgentID)
	channel := normalizeQualifier(in.Channel)
	if channel == "" {
		channel = DefaultChannel
	}

	var base string
	switch in.Scope {
	case ScopeAgent:
		base = fmt.Sprintf("agent:%s:%s:main", agentID, channel)
	case ScopeRoom:
		room := normalizeQualifier(in.Room)
		if room == "" {
			return Resolved{}, fmt.Errorf("room is required for per-room scope")
		}
		base = fmt.Sprintf("agent:%s:%s:channel:%s", agentID, channel, room)
	case ScopeDirect:
		user := normalizeQualifier(in.User)
		if user == "" {
			return Resolved{}, fmt.Errorf("user is required for direct scope")
		}
		// 私聊永不 thread 化
		return Resolved{Key: fmt.Sprintf("agent:%s:%s:direct:%s", agentID, channel, user)}, nil
	default:
		return Resolved{}, fmt.Errorf("unknown channel scope %d", in.Scope)
	}

	threadID := normalizeQualifier(in.ThreadID)
	if threadID == "" {
		return Resolved{Key: base}, nil
	}
	return Resolved{Key: base + ":thread:" + threadID, ParentKey: base}, nil
}

// Parsed Session Key 解析结果
type Parsed struct {
	AgentID    string
	Scope      string   // main | subagent | cron | <channel>
	Qualifiers []string // scope 之后的剩余段
}

// ParseSessionKey 解析 agent:<id>:<scope>[:<qualifier>...]；非法 Key 返回 nil
func ParseSessionKey(key string) *Parsed {
	k := strings.ToLower(strings.TrimSpace(key))
	parts := strings.Split(k, ":")
	if len(parts) < 3 || parts[0] != "agent" || parts[1] == "" || parts[2] == "" {
		return nil
	}
	return &Parsed{
		AgentID:    parts[1],
		Scope:      parts[2],
		Qualifiers: parts[3:],
	}
}

// AgentIDFromKey 从 Session Key 提取 agent id；解析失败回落 DefaultAgentID
func AgentIDFromKey(key string) string {
	if p := ParseSessionKey(key); p != nil {
		return p.AgentID
	}
	return DefaultAgentID
}

// IsSubagentKey 判断是否为 subagent 子会话 Key
func IsSubagentKey(key string) bool {
	p := ParseSessionKey(key)
	return p != nil && p.Scope == "subagent"
}

// IsCronKey 判断是否为定时任务隔离会话 Key
func IsCronKey(key string) bool {
	p := ParseSessionKey(key)
	return p != nil && p.Scope == "cron"
}

// NormalizeKey 规范化任意 Session Key（trim + 小写）；用于比较两个 Key 是否同一身份
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
