package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisClient connects to FARMGATE_TEST_REDIS (host:port) or skips.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("FARMGATE_TEST_REDIS")
	if addr == "" {
		t.Skip("FARMGATE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewRedisManager(redisClient(t), RedisOptions{Notify: true})
	key := "lock:test:" + uuid.NewString()

	token, ok, err := m.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	done := make(chan error, 1)
	go func() { done <- m.AwaitUnlock(ctx, key, time.Minute) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, m.Unlock(ctx, key, token))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("AwaitUnlock did not observe the published release")
	}
}

func TestRedisManagerTTL(t *testing.T) {
	ctx := context.Background()
	m := NewRedisManager(redisClient(t), RedisOptions{})
	key := "lock:test:" + uuid.NewString()

	_, err := m.Lock(ctx, key, 200*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.AwaitUnlock(ctx, key, 50*time.Millisecond))

	locked, err := m.IsLocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, locked)
}
