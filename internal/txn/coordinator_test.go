package txn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"farmgate/internal/lock"
	"farmgate/internal/repository"
)

// countingManager records how many locks were taken.
type countingManager struct {
	lock.Manager
	acquired atomic.Int32
}

func (m *countingManager) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, ok, err := m.Manager.TryLock(ctx, key, ttl)
	if ok {
		m.acquired.Add(1)
	}
	return token, ok, err
}

func newTestCoordinator(t *testing.T) (*Coordinator, *countingManager, repository.EntityStore) {
	t.Helper()
	locks := &countingManager{Manager: lock.NewMemoryManager(nil)}
	entities := repository.NewMemoryEntityStore()
	c := NewCoordinator(locks, entities, Options{TTL: 15 * time.Second, PollInterval: 10 * time.Millisecond}, zap.NewNop(), nil)
	return c, locks, entities
}

func TestWithLocksNeverInterleaves(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	keys := UserProfile("1").Keys

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		counter int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.WithLocks(ctx, keys, func(context.Context) error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 20, counter)
}

func TestWithProfileAbsentEntityTakesNoLocks(t *testing.T) {
	c, locks, _ := newTestCoordinator(t)

	ran := false
	err := c.WithProfile(context.Background(), UserProfile("missing"), func(context.Context) error {
		ran = true
		return nil
	})

	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Equal(t, OutcomeNotFound, Classify(err))
	assert.False(t, ran)
	assert.Zero(t, locks.acquired.Load())
}

func TestWithProfileResidentEntity(t *testing.T) {
	c, locks, entities := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, entities.Set(ctx, repository.CollectionUsers, "7", map[string]string{"tele_id": "7"}))

	require.NoError(t, c.WithProfile(ctx, UserProfile("7"), func(context.Context) error { return nil }))
	assert.EqualValues(t, 4, locks.acquired.Load())
}

func TestWithLocksReleasesOnFailure(t *testing.T) {
	c, locks, _ := newTestCoordinator(t)
	ctx := context.Background()
	keys := []string{"lock:a:1", "lock:b:1"}

	errBoom := errors.New("boom")
	err := c.WithLocks(ctx, keys, func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, OutcomeInternal, Classify(err))

	err = c.WithLocks(ctx, keys, func(context.Context) error { panic("kaboom") })
	assert.ErrorIs(t, err, ErrMutationPanic)

	err = c.WithLocks(ctx, keys, func(context.Context) error { return Reject("not enough %s", "tpl") })
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "not enough tpl", be.Message)
	assert.Equal(t, OutcomeBusiness, Classify(err))

	for _, k := range keys {
		locked, err := locks.IsLocked(ctx, k)
		require.NoError(t, err)
		assert.False(t, locked, k)
	}
}

func TestWithLocksDeduplicatesKeys(t *testing.T) {
	c, locks, _ := newTestCoordinator(t)
	err := c.WithLocks(context.Background(), []string{"lock:a:1", "lock:a:1"}, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.EqualValues(t, 1, locks.acquired.Load())
}

func TestWithLocksGivesUpWhenContextEnds(t *testing.T) {
	c, locks, _ := newTestCoordinator(t)
	_, err := locks.Lock(context.Background(), "lock:a:1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = c.WithLocks(ctx, []string{"lock:b:1", "lock:a:1"}, func(context.Context) error {
		t.Fatal("mutation ran without its locks")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The key taken before the wait gave up is released again.
	locked, err := locks.IsLocked(context.Background(), "lock:b:1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestClassifyOK(t *testing.T) {
	assert.Equal(t, OutcomeOK, Classify(nil))
}

func TestWithLocksEndsMutationBeforeLocksExpire(t *testing.T) {
	locks := lock.NewMemoryManager(nil)
	ttl := 500 * time.Millisecond
	c := NewCoordinator(locks, repository.NewMemoryEntityStore(), Options{TTL: ttl, PollInterval: 5 * time.Millisecond}, zap.NewNop(), nil)

	start := time.Now()
	var stillLocked bool
	err := c.WithLocks(context.Background(), []string{"lock:a:1"}, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.True(t, deadline.Before(start.Add(ttl)))

		<-ctx.Done()
		var err error
		stillLocked, err = locks.IsLocked(context.Background(), "lock:a:1")
		require.NoError(t, err)
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), ttl)
	assert.True(t, stillLocked, "lock expired while the mutation could still commit")
}
