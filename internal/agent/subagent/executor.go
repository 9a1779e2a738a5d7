// Copyright 2026 fanjia1024
// Agent turn executor contract

package subagent

import "context"

// TurnRequest 在指定会话中运行一轮 agent 对话的请求
type TurnRequest struct {
	SessionKey string
	AgentID    string
	Prompt     string
	// AllowUnsafe 允许输入包含未消毒的外部内容
	AllowUnsafe bool
}

// TurnResult 一轮对话的产出
type TurnResult struct {
	Output string
	Tokens int
}

// Callbacks 执行过程中的回调,任意字段可为 nil
type Callbacks struct {
	// OnProgress 执行器上报进度时调用
	OnProgress func(percent int, status string)
	// OnUsage 执行器上报 token 消耗时调用
	OnUsage func(tokens int)
}

// Executor 执行一轮 agent 对话。实现方必须尊重 ctx 取消。
type Executor interface {
	RunTurn(ctx context.Context, req TurnRequest, cb Callbacks) (TurnResult, error)
}
