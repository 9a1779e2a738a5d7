// Copyright 2026 fanjia1024
// Environment variable based secret resolution

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix 环境变量别名前缀,与配置的 GATEWAY_ 覆盖约定一致
const DefaultEnvPrefix = "GATEWAY_"

type envStore struct {
	prefix string
}

// NewEnvStore 创建环境变量 secret store。prefix 为空时使用
// DefaultEnvPrefix 作为别名前缀。
func NewEnvStore(prefix string) Store {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &envStore{prefix: prefix}
}

// Get 解析 secret 引用。先按引用名原样查找,未命中时再尝试带前缀的
// 大写别名,这样 ${JOBSTORE_DSN} 也能由 GATEWAY_JOBSTORE_DSN 提供。
func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	alias := e.prefix + strings.ToUpper(key)
	if value := os.Getenv(alias); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("environment variable not set: %s (also tried %s)", key, alias)
}
