package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"farmgate/internal/clock"
)

type heldLock struct {
	token     string
	expiresAt time.Time
}

type memoryManager struct {
	mu       sync.Mutex
	clock    clock.Clock
	locks    map[string]heldLock
	released chan struct{} // closed and replaced on every release
}

// NewMemoryManager returns a process-local Manager for memory mode and tests.
func NewMemoryManager(clk clock.Clock) Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &memoryManager{
		clock:    clk,
		locks:    make(map[string]heldLock),
		released: make(chan struct{}),
	}
}

// liveLocked reports whether key is held; callers hold m.mu.
func (m *memoryManager) liveLocked(key string) bool {
	l, ok := m.locks[key]
	if !ok {
		return false
	}
	if !m.clock.Now().Before(l.expiresAt) {
		delete(m.locks, key)
		return false
	}
	return true
}

func (m *memoryManager) Lock(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := uuid.NewString()
	m.locks[key] = heldLock{token: token, expiresAt: m.clock.Now().Add(ttl)}
	return token, nil
}

func (m *memoryManager) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveLocked(key) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[key] = heldLock{token: token, expiresAt: m.clock.Now().Add(ttl)}
	return token, true, nil
}

func (m *memoryManager) IsLocked(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key), nil
}

func (m *memoryManager) AwaitUnlock(ctx context.Context, key string, interval time.Duration) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		m.mu.Lock()
		locked := m.liveLocked(key)
		released := m.released
		m.mu.Unlock()
		if !locked {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
		case <-timer.C:
			timer.Reset(interval)
		}
	}
}

func (m *memoryManager) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok || (token != "" && l.token != token) {
		return nil
	}
	delete(m.locks, key)
	close(m.released)
	m.released = make(chan struct{})
	return nil
}
