// Copyright 2026 fanjia1024
// In-memory secret store for tests and local development

package secrets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore 内存 secret store。只能通过 Seed 预置,供测试与本地
// 开发在没有真实 secret 后端时使用。
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore 创建内存 secret store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

// Get 获取 secret 值
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return value, nil
}

// Seed 预置 secret
func (m *MemoryStore) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
}
