package model

import (
	"time"

	"github.com/google/uuid"
)

// ConfigRecord is one named game configuration document.
type ConfigRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ConfigType string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"config_type"`
	Payload    RawJSON   `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ConfigRecord) TableName() string { return "configs" }

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
	// ChangeResync asks the consumer to reload everything; emitted after the
	// feed reconnects and may have missed notifications.
	ChangeResync ChangeOp = "resync"
)

// ChangeEvent is one notification from the config change feed.
type ChangeEvent struct {
	Op ChangeOp  `json:"op"`
	ID uuid.UUID `json:"id"`
}
