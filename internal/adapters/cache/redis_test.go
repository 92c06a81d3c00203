package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Requires a running Redis; set TEST_REDIS_ADDR to enable.
func TestSweepLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := NewRedisClient(ctx, RedisConfig{Addr: addr, DB: 15}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := NewSweepLocker(client, "test:sweep:", logger)
	name := "lock-" + time.Now().Format("150405.000000000")

	unlock, ok, err := locker.TryLock(ctx, name, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, name, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	require.NoError(t, unlock(ctx))

	unlock2, ok, err := locker.TryLock(ctx, name, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock2(ctx))
}

func TestSweepLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := NewRedisClient(ctx, RedisConfig{Addr: addr, DB: 15}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := NewSweepLocker(client, "test:sweep:", logger)
	name := "stale-" + time.Now().Format("150405.000000000")

	staleUnlock, ok, err := locker.TryLock(ctx, name, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(200 * time.Millisecond)

	freshUnlock, ok, err := locker.TryLock(ctx, name, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, staleUnlock(ctx))

	_, ok, err = locker.TryLock(ctx, name, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "stale release must not drop the new lease")
	require.NoError(t, freshUnlock(ctx))
}
