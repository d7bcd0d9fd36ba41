package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"farmgate/internal/clock"
	"farmgate/internal/metrics"
	"farmgate/internal/repository"
	"farmgate/internal/txn"
)

type SessionService interface {
	// Flush writes the user's cache state to the authoritative store and
	// evicts it. On failure the cache copy is kept for a later flush.
	Flush(ctx context.Context, teleID, nonce string) error
}

type sessionService struct {
	users      repository.UserRepository
	cache      *repository.UserCache
	stateStore repository.StateStore
	coord      *txn.Coordinator
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewSessionService(
	users repository.UserRepository,
	cache *repository.UserCache,
	stateStore repository.StateStore,
	coord *txn.Coordinator,
	clk clock.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) SessionService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &sessionService{
		users:      users,
		cache:      cache,
		stateStore: stateStore,
		coord:      coord,
		clock:      clk,
		logger:     logger.Named("session"),
		metrics:    m,
	}
}

func (s *sessionService) Flush(ctx context.Context, teleID, nonce string) error {
	err := s.coord.WithProfile(ctx, txn.UserProfile(teleID), func(ctx context.Context) error {
		snap, ok, err := s.cache.Snapshot(ctx, teleID)
		if err != nil {
			return err
		}
		if !ok {
			return txn.ErrEntityNotFound
		}

		now := s.clock.Now()
		snap.User.LastActiveAt = now
		for i := range snap.Locations {
			snap.Locations[i].LastActiveAt = now
		}
		if err := s.users.Flush(ctx, snap); err != nil {
			return fmt.Errorf("flush to store: %w", err)
		}
		// Past this point the locks may have expired; evicting could drop
		// state written by the next holder.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush outlived its locks: %w", err)
		}
		if err := s.cache.Evict(ctx, teleID); err != nil {
			return err
		}
		return s.consumeNonce(ctx, teleID, nonce)
	})

	switch {
	case err == nil:
		s.metrics.Flush("ok")
		return nil
	case errors.Is(err, txn.ErrEntityNotFound):
		// Another session of the same user already flushed.
		s.metrics.Flush("skipped")
		return nil
	default:
		s.metrics.Flush("failed")
		s.logger.Error("session flush failed, cache copy kept", zap.String("tele_id", teleID), zap.Error(err))
		return err
	}
}

// consumeNonce deletes the nonce marker unless a newer login replaced it.
func (s *sessionService) consumeNonce(ctx context.Context, teleID, nonce string) error {
	key := repository.NonceKey(teleID)
	current, ok, err := s.stateStore.Get(ctx, key)
	if err != nil || !ok || current != nonce {
		return err
	}
	return s.stateStore.DeleteTTL(ctx, key)
}

var _ SessionService = (*sessionService)(nil)
