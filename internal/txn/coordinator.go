// Package txn serializes mutations of cache-resident entities.
//
// A Coordinator waits for and acquires an ordered lock set, runs a mutation,
// and always releases the set afterwards. At most one mutation runs per lock
// set at a time. Mutations are not rolled back: a mutation must only commit
// complete, valid state to the cache.
package txn

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"farmgate/internal/lock"
	"farmgate/internal/metrics"
	"farmgate/internal/repository"
)

const releaseTimeout = 5 * time.Second

type Options struct {
	// TTL bounds how long a lock survives a crashed holder. Critical
	// sections must stay well under it.
	TTL          time.Duration
	PollInterval time.Duration
}

// Mutation runs while the lock set is held.
type Mutation func(ctx context.Context) error

type Coordinator struct {
	locks    lock.Manager
	entities repository.EntityStore
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewCoordinator(locks lock.Manager, entities repository.EntityStore, opts Options, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		locks:    locks,
		entities: entities,
		opts:     opts,
		logger:   logger.Named("txn"),
		metrics:  m,
	}
}

type heldKey struct {
	key   string
	token string
	at    time.Time
}

// holdBudget is how long a mutation may run after its first lock was taken.
// The remainder of the TTL is left for committing and releasing.
func holdBudget(ttl time.Duration) time.Duration {
	return ttl - ttl/5
}

// WithProfile runs fn under p's lock set. When p names a primary entity that
// is not cache-resident it returns ErrEntityNotFound without taking any lock.
func (c *Coordinator) WithProfile(ctx context.Context, p Profile, fn Mutation) error {
	if p.Collection != "" {
		ok, err := c.entities.Exists(ctx, p.Collection, p.ID)
		if err != nil {
			c.metrics.Mutation(string(OutcomeInternal))
			return fmt.Errorf("check %s/%s: %w", p.Collection, p.ID, err)
		}
		if !ok {
			c.metrics.Mutation(string(OutcomeNotFound))
			return ErrEntityNotFound
		}
	}
	return c.WithLocks(ctx, p.Keys, fn)
}

// WithLocks acquires keys in the given order, runs fn, and releases every
// key regardless of fn's outcome. fn's context ends before the first lock's
// TTL runs out; fn must not commit once it is done. fn's error is returned
// unchanged; use Classify to tell business failures from internal ones.
func (c *Coordinator) WithLocks(ctx context.Context, keys []string, fn Mutation) error {
	keys = dedupe(keys)

	start := time.Now()
	held, err := c.acquire(ctx, keys)
	if err != nil {
		c.metrics.Mutation(string(OutcomeInternal))
		return fmt.Errorf("acquire locks: %w", err)
	}
	c.metrics.LockWait(time.Since(start).Seconds())
	defer c.release(held)

	runCtx := ctx
	if len(held) > 0 && c.opts.TTL > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, held[0].at.Add(holdBudget(c.opts.TTL)))
		defer cancel()
	}

	err = c.run(runCtx, fn)
	outcome := Classify(err)
	c.metrics.Mutation(string(outcome))
	if outcome == OutcomeInternal {
		c.logger.Error("mutation failed", zap.Strings("keys", keys), zap.Error(err))
	}
	return err
}

// acquire takes each key in order. A key is only taken once it is observed
// free and the conditional set wins; losing the race means waiting again.
func (c *Coordinator) acquire(ctx context.Context, keys []string) ([]heldKey, error) {
	held := make([]heldKey, 0, len(keys))
	for _, key := range keys {
		for {
			if err := c.locks.AwaitUnlock(ctx, key, c.opts.PollInterval); err != nil {
				c.release(held)
				return nil, err
			}
			token, ok, err := c.locks.TryLock(ctx, key, c.opts.TTL)
			if err != nil {
				c.release(held)
				return nil, err
			}
			if ok {
				held = append(held, heldKey{key: key, token: token, at: time.Now()})
				break
			}
		}
	}
	return held, nil
}

func (c *Coordinator) release(held []heldKey) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if err := c.locks.Unlock(ctx, held[i].key, held[i].token); err != nil {
			// The TTL still bounds how long the key stays held.
			c.logger.Error("unlock failed", zap.String("key", held[i].key), zap.Error(err))
		}
	}
}

func (c *Coordinator) run(ctx context.Context, fn Mutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMutationPanic, r)
		}
	}()
	return fn(ctx)
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
