// Package lock provides TTL-bounded mutual exclusion keyed by arbitrary
// strings over the shared cache.
//
// A lock is a key whose existence is the only state; its TTL caps how long a
// crashed holder can block others. Every lock carries an owner token so a
// holder whose lock already expired cannot release a successor's lock.
package lock

import (
	"context"
	"time"
)

type Manager interface {
	// Lock sets key unconditionally with expiry ttl (last writer wins) and
	// returns the owner token.
	Lock(ctx context.Context, key string, ttl time.Duration) (string, error)
	// TryLock sets key only if it is absent. ok is false when another holder
	// won the race.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	IsLocked(ctx context.Context, key string) (bool, error)
	// AwaitUnlock blocks the caller until key is absent. It re-checks at
	// least every interval and earlier when a release is announced.
	AwaitUnlock(ctx context.Context, key string, interval time.Duration) error
	// Unlock deletes key. A non-empty token restricts the delete to the
	// holder that token was issued to.
	Unlock(ctx context.Context, key, token string) error
}

// Key is the lock key guarding one entity of collection.
func Key(collection, id string) string {
	return "lock:" + collection + ":" + id
}
