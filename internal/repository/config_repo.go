package repository

import (
	"context"

	"github.com/google/uuid"

	"farmgate/internal/model"
)

// ConfigRepository is the authoritative store for game configuration.
type ConfigRepository interface {
	List(ctx context.Context) ([]model.ConfigRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.ConfigRecord, error)
	// Put creates or replaces the config of configType.
	Put(ctx context.Context, configType string, payload []byte) (*model.ConfigRecord, error)
	Delete(ctx context.Context, configType string) error
}

// ChangeFeed streams mutations of the config collection. The channel is
// closed when ctx ends.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error)
}
