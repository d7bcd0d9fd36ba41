package model

import (
	"time"

	"github.com/google/uuid"
)

// Location is one address a user has been seen at.
type Location struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"-"`
	TeleID       string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_locations_tele_ip" json:"tele_id"`
	IPAddress    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_locations_tele_ip" json:"ip_address"`
	PreviousIP   string    `gorm:"type:varchar(64)" json:"previous_ip,omitempty"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Location) TableName() string { return "locations" }

// SeenAt records ip in locs, refreshing an existing entry or appending a new one.
func SeenAt(locs []Location, teleID, ip, previousIP string, t time.Time) []Location {
	for i := range locs {
		if locs[i].IPAddress == ip {
			locs[i].LastActiveAt = t
			return locs
		}
	}
	loc := Location{TeleID: teleID, IPAddress: ip, LastActiveAt: t, CreatedAt: t}
	if previousIP != ip {
		loc.PreviousIP = previousIP
	}
	return append(locs, loc)
}
