// Package ratelimit counts events per key in fixed windows over a shared
// counter store.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter decides whether one more event for key is admitted.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NewMemoryStore keeps counters in process. Expired counters are dropped
// every cleanup interval.
func NewMemoryStore(prefix string, cleanup time.Duration) limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          prefix,
		CleanUpInterval: cleanup,
	})
}

// NewRedisStore keeps counters in Redis so every replica shares one budget.
func NewRedisStore(client *redis.Client, prefix string) (limiter.Store, error) {
	return sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
}

// Window admits at most limit events per key in each period. A nil Window,
// or one built with a non-positive limit, admits everything.
type Window struct {
	engine *limiter.Limiter
	logger *zap.Logger
}

var _ Limiter = (*Window)(nil)

func New(store limiter.Store, limit int, period time.Duration, logger *zap.Logger) *Window {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Window{logger: logger.Named("ratelimit")}
	if limit > 0 {
		w.engine = limiter.New(store, limiter.Rate{Period: period, Limit: int64(limit)})
	}
	return w
}

// Allow counts one event for key. A failing store admits the event.
func (w *Window) Allow(ctx context.Context, key string) bool {
	if w == nil || w.engine == nil {
		return true
	}
	lc, err := w.engine.Get(ctx, key)
	if err != nil {
		w.logger.Warn("rate limit store unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return !lc.Reached
}

// Engine is the underlying limiter, nil when the window admits everything.
func (w *Window) Engine() *limiter.Limiter {
	if w == nil {
		return nil
	}
	return w.engine
}
