// Copyright 2026 fanjia1024

package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStoreResolvesDirectName(t *testing.T) {
	t.Setenv("WEBHOOK_TOKEN", "tok-123")
	store := NewEnvStore("")

	value, err := store.Get(context.Background(), "WEBHOOK_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", value)
}

func TestEnvStoreFallsBackToPrefixedAlias(t *testing.T) {
	// 引用名本身未设置时按 GATEWAY_ 前缀别名查找
	t.Setenv("GATEWAY_JOBSTORE_DSN", "postgres://gw")
	store := NewEnvStore("")

	value, err := store.Get(context.Background(), "jobstore_dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://gw", value)
}

func TestEnvStoreMissingKey(t *testing.T) {
	store := NewEnvStore("")
	_, err := store.Get(context.Background(), "NO_SUCH_SECRET_EVER")
	assert.ErrorContains(t, err, "NO_SUCH_SECRET_EVER")
	assert.ErrorContains(t, err, "GATEWAY_NO_SUCH_SECRET_EVER")
}

func TestMemoryStoreSeedAndGet(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("api_key", "k1")

	value, err := store.Get(context.Background(), "api_key")
	require.NoError(t, err)
	assert.Equal(t, "k1", value)

	_, err = store.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestNewStoreDefaultsToEnv(t *testing.T) {
	t.Setenv("GATEWAY_FALLBACK_SECRET", "v")
	store, err := NewStore(Config{})
	require.NoError(t, err)

	value, err := store.Get(context.Background(), "fallback_secret")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}
