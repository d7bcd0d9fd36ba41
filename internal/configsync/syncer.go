// Package configsync mirrors the authoritative config records into the cache.
//
// The cache holds one document per config type in the "config" collection.
// Every write to that collection happens under the config lock, so a reader
// that awaits the lock never observes a half-applied load.
package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"farmgate/internal/metrics"
	"farmgate/internal/model"
	"farmgate/internal/repository"
	"farmgate/internal/txn"
)

type Syncer struct {
	repo     repository.ConfigRepository
	feed     repository.ChangeFeed
	entities repository.EntityStore
	coord    *txn.Coordinator
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// types resolves a record id to the config type it was last cached under.
	// Only touched while the config lock is held.
	types map[uuid.UUID]string
	done  chan struct{}
}

// New builds a Syncer. A nil feed disables live sync; only the bulk load runs.
func New(
	repo repository.ConfigRepository,
	feed repository.ChangeFeed,
	entities repository.EntityStore,
	coord *txn.Coordinator,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Syncer {
	return &Syncer{
		repo:     repo,
		feed:     feed,
		entities: entities,
		coord:    coord,
		logger:   logger.Named("configsync"),
		metrics:  m,
		types:    make(map[uuid.UUID]string),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the change feed, runs the bulk load, and then applies
// events in the background until ctx ends. Subscribing first means a change
// racing the load is replayed after it rather than lost.
func (s *Syncer) Start(ctx context.Context) error {
	var events <-chan model.ChangeEvent
	if s.feed != nil {
		ch, err := s.feed.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe config feed: %w", err)
		}
		events = ch
	}

	if err := s.Load(ctx); err != nil {
		return err
	}

	if events == nil {
		close(s.done)
		return nil
	}
	go func() {
		defer close(s.done)
		for ev := range events {
			if err := s.Apply(ctx, ev); err != nil && ctx.Err() == nil {
				s.logger.Error("apply config change",
					zap.String("op", string(ev.Op)), zap.Stringer("id", ev.ID), zap.Error(err))
			}
		}
	}()
	return nil
}

// Done is closed once the event loop has exited.
func (s *Syncer) Done() <-chan struct{} {
	return s.done
}

// Load replaces the cached config with every record of the store.
func (s *Syncer) Load(ctx context.Context) error {
	return s.coord.WithProfile(ctx, txn.ConfigProfile(), func(ctx context.Context) error {
		records, err := s.repo.List(ctx)
		if err != nil {
			return fmt.Errorf("list configs: %w", err)
		}

		cached, err := s.entities.GetAll(ctx, repository.CollectionConfig)
		if err != nil {
			return fmt.Errorf("read cached configs: %w", err)
		}

		types := make(map[uuid.UUID]string, len(records))
		for _, rec := range records {
			if err := s.entities.Set(ctx, repository.CollectionConfig, rec.ConfigType, json.RawMessage(rec.Payload)); err != nil {
				return err
			}
			types[rec.ID] = rec.ConfigType
			delete(cached, rec.ConfigType)
		}

		// Whatever is left was deleted from the store while nobody listened.
		stale := make([]string, 0, len(cached))
		for typ := range cached {
			stale = append(stale, typ)
		}
		if len(stale) > 0 {
			if err := s.entities.Delete(ctx, repository.CollectionConfig, stale...); err != nil {
				return err
			}
		}

		s.types = types
		s.metrics.ConfigEvent(string(model.ChangeResync))
		s.logger.Info("config loaded", zap.Int("records", len(records)), zap.Int("evicted", len(stale)))
		return nil
	})
}

// Apply folds one change notification into the cache.
func (s *Syncer) Apply(ctx context.Context, ev model.ChangeEvent) error {
	switch ev.Op {
	case model.ChangeResync:
		return s.Load(ctx)
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		s.logger.Warn("unknown config change op", zap.String("op", string(ev.Op)))
		return nil
	}

	return s.coord.WithProfile(ctx, txn.ConfigProfile(), func(ctx context.Context) error {
		if ev.Op == model.ChangeDelete {
			return s.evict(ctx, ev.ID)
		}

		// Re-read under the lock so the newest committed version wins.
		rec, err := s.repo.GetByID(ctx, ev.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return s.evict(ctx, ev.ID)
		}
		if err != nil {
			return fmt.Errorf("read config %s: %w", ev.ID, err)
		}

		if err := s.entities.Set(ctx, repository.CollectionConfig, rec.ConfigType, json.RawMessage(rec.Payload)); err != nil {
			return err
		}
		if old, ok := s.types[rec.ID]; ok && old != rec.ConfigType {
			if err := s.entities.Delete(ctx, repository.CollectionConfig, old); err != nil {
				return err
			}
		}
		s.types[rec.ID] = rec.ConfigType
		s.metrics.ConfigEvent(string(ev.Op))
		return nil
	})
}

func (s *Syncer) evict(ctx context.Context, id uuid.UUID) error {
	typ, ok := s.types[id]
	if !ok {
		s.logger.Warn("delete for unknown config id", zap.Stringer("id", id))
		return nil
	}
	if err := s.entities.Delete(ctx, repository.CollectionConfig, typ); err != nil {
		return err
	}
	delete(s.types, id)
	s.metrics.ConfigEvent(string(model.ChangeDelete))
	return nil
}
