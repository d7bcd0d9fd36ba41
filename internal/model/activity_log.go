package model

import (
	"time"

	"github.com/google/uuid"
)

// ActivityLog is an audit entry appended by balance-affecting actions.
// Entries accumulate in the cache during a session and are inserted on flush.
type ActivityLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"-"`
	TeleID    string    `gorm:"type:varchar(32);not null;index" json:"tele_id"`
	LogType   string    `gorm:"type:varchar(64);not null" json:"log_type"`
	Details   JSONMap   `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string { return "activity_logs" }
