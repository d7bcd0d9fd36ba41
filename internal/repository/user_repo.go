package repository

import (
	"context"
	"time"

	"farmgate/internal/model"
)

// LoginInput is the identity and origin of one successful provider login.
type LoginInput struct {
	TeleID     string
	Name       string
	Username   string
	AuthDate   time.Time
	IPAddress  string
	ReferralBy string
	At         time.Time
}

// Snapshot is the complete cache-resident state of one user.
type Snapshot struct {
	User      model.User
	Locations []model.Location
	Logs      []model.ActivityLog
}

// UserRepository is the authoritative store for user state.
type UserRepository interface {
	GetByTeleID(ctx context.Context, teleID string) (*model.User, error)
	// Login upserts the user and the login location in one transaction and
	// returns the authoritative state the cache is hydrated from. New users
	// receive a referral code drawn from newCode.
	Login(ctx context.Context, in LoginInput, newCode func() (string, error)) (*Snapshot, error)
	// Flush writes a cache snapshot back in one transaction: the user is
	// updated by identity, locations are upserted, logs are appended.
	Flush(ctx context.Context, snap *Snapshot) error
}

const maxReferralAttempts = 16

func newUser(in LoginInput, code string) model.User {
	return model.User{
		TeleID:       in.TeleID,
		ReferralCode: code,
		FarmLevel:    1,
		Balances:     model.Balances{},
		Inventory:    model.Inventory{},
		Tasks:        model.Tasks{},
		Actions:      model.ActionStamps{},
		CreatedAt:    in.At,
	}
}

// applyLogin copies the fresh identity onto u and returns the previous IP.
func applyLogin(u *model.User, in LoginInput) string {
	previousIP := ""
	if u.IPLocation != nil {
		previousIP = u.IPLocation.IPAddress
	}
	u.Name = in.Name
	u.Username = in.Username
	u.AuthDate = in.AuthDate
	u.LastActiveAt = in.At
	u.IPLocation = &model.IPLocation{IPAddress: in.IPAddress, SeenAt: in.At}
	return previousIP
}
