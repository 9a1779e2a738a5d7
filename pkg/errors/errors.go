// Package errors 提供统一错误辅助，不依赖 internal。
// 错误分层：配置/鉴权错误同步返回调用方；瞬态派发与恢复类缺失在返回值中体现，
// 不跨 wake loop 边界抛出。
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrInvalidSchedule 配置错误：cron 表达式或 schedule 字段非法，add/update 时同步拒绝
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrAgentMismatch 鉴权错误：显式 session key 的 agent id 与请求方不一致
	ErrAgentMismatch = errors.New("session key agent mismatch")
	// ErrForbidden 鉴权错误：非属主操作（如 abort 他人 run）
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyEnded 目标 run 已终态；abort 幂等返回
	ErrAlreadyEnded = errors.New("run already ended")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is 转发 errors.Is，便于调用方只 import 本包
func Is(err, target error) bool {
	return errors.Is(err, target)
}
