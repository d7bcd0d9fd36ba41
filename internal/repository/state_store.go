package repository

import (
	"context"
	"time"
)

// StateStore holds short-lived scalar markers, such as the session nonce
// issued with a bearer token. Markers are not entities and expire on their own.
// Implementations: Redis (production) or in-memory (local dev / tests).
type StateStore interface {
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get returns "", false when the marker is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	HasTTL(ctx context.Context, key string) (bool, error)
	DeleteTTL(ctx context.Context, key string) error
}

// NonceKey is the marker proving a bearer token for teleID is still unconsumed.
func NonceKey(teleID string) string {
	return "nonces:" + teleID
}
