package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"farmgate/internal/model"
)

// MemoryConfigRepository is both a ConfigRepository and the ChangeFeed of
// its own writes, so memory mode exercises the same sync path as Postgres.
type MemoryConfigRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]model.ConfigRecord

	subMu       sync.Mutex
	subscribers []chan model.ChangeEvent
}

func NewMemoryConfigRepository() *MemoryConfigRepository {
	return &MemoryConfigRepository{records: make(map[uuid.UUID]model.ConfigRecord)}
}

func (r *MemoryConfigRepository) List(_ context.Context) ([]model.ConfigRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ConfigRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigType < out[j].ConfigType })
	return out, nil
}

func (r *MemoryConfigRepository) GetByID(_ context.Context, id uuid.UUID) (*model.ConfigRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryConfigRepository) Put(_ context.Context, configType string, payload []byte) (*model.ConfigRecord, error) {
	r.mu.Lock()
	now := time.Now().UTC()
	op := model.ChangeInsert
	rec := model.ConfigRecord{ID: uuid.New(), ConfigType: configType, CreatedAt: now}
	for id, existing := range r.records {
		if existing.ConfigType == configType {
			rec, op = existing, model.ChangeUpdate
			rec.ID = id
			break
		}
	}
	rec.Payload = append(model.RawJSON(nil), payload...)
	rec.UpdatedAt = now
	r.records[rec.ID] = rec
	r.mu.Unlock()

	r.publish(model.ChangeEvent{Op: op, ID: rec.ID})
	return &rec, nil
}

func (r *MemoryConfigRepository) Delete(_ context.Context, configType string) error {
	r.mu.Lock()
	var found *uuid.UUID
	for id, rec := range r.records {
		if rec.ConfigType == configType {
			id := id
			found = &id
			delete(r.records, id)
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return ErrNotFound
	}
	r.publish(model.ChangeEvent{Op: model.ChangeDelete, ID: *found})
	return nil
}

func (r *MemoryConfigRepository) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	ch := make(chan model.ChangeEvent, 64)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	go func() {
		<-ctx.Done()
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for i, sub := range r.subscribers {
			if sub == ch {
				r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

// publish delivers ev to every subscriber, in write order.
func (r *MemoryConfigRepository) publish(ev model.ChangeEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, sub := range r.subscribers {
		sub <- ev
	}
}
