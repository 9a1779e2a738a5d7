// Copyright 2026 fanjia1024
// Secret resolution for config references

package secrets

import (
	"context"
)

// Store 只读 secret 解析接口。配置加载时用它把 ${KEY} 形式的引用
// 替换为真实值,网关自身不写入 secret。
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string            `mapstructure:"provider"` // vault | env | memory
	Config   map[string]string `mapstructure:"config"`   // Provider-specific config
}

// NewStore 创建 Secret Store,未知 provider 回退到环境变量
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "memory":
		return NewMemoryStore(), nil
	case "env":
		return NewEnvStore(config.Config["prefix"]), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.Config["address"],
			Token:      config.Config["token"],
			PathPrefix: config.Config["path_prefix"],
		})
	default:
		return NewEnvStore(config.Config["prefix"]), nil
	}
}
