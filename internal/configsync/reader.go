package configsync

import (
	"context"
	"encoding/json"
	"time"

	"farmgate/internal/lock"
	"farmgate/internal/repository"
	"farmgate/internal/txn"
)

// Reader serves cached config to action handlers. It waits out any load or
// change in progress before reading, but never takes the lock itself.
type Reader struct {
	locks    lock.Manager
	entities repository.EntityStore
	poll     time.Duration
}

func NewReader(locks lock.Manager, entities repository.EntityStore, poll time.Duration) *Reader {
	return &Reader{locks: locks, entities: entities, poll: poll}
}

// All returns every cached config document keyed by config type.
func (r *Reader) All(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := r.locks.AwaitUnlock(ctx, txn.ConfigLockKey, r.poll); err != nil {
		return nil, err
	}
	raw, err := r.entities.GetAll(ctx, repository.CollectionConfig)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(raw))
	for typ, doc := range raw {
		out[typ] = doc
	}
	return out, nil
}

// Get decodes the config of configType into dest.
func (r *Reader) Get(ctx context.Context, configType string, dest any) (bool, error) {
	if err := r.locks.AwaitUnlock(ctx, txn.ConfigLockKey, r.poll); err != nil {
		return false, err
	}
	return r.entities.Get(ctx, repository.CollectionConfig, configType, dest)
}
