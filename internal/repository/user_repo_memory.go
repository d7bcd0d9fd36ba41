package repository

import (
	"context"
	"errors"
	"sync"

	"farmgate/internal/model"
)

// MemoryUserRepository is an in-process UserRepository for memory mode and tests.
type MemoryUserRepository struct {
	mu        sync.Mutex
	users     map[string]model.User
	locations map[string][]model.Location
	logs      []model.ActivityLog
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:     make(map[string]model.User),
		locations: make(map[string][]model.Location),
	}
}

func (r *MemoryUserRepository) GetByTeleID(_ context.Context, teleID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[teleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) Login(_ context.Context, in LoginInput, newCode func() (string, error)) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[in.TeleID]
	if !ok {
		code, err := r.uniqueCode(in.ReferralBy, newCode)
		if err != nil {
			return nil, err
		}
		user = newUser(in, code)
		if in.ReferralBy != "" && r.codeTaken(in.ReferralBy) {
			user.ReferralBy = in.ReferralBy
		}
	}
	previousIP := applyLogin(&user, in)
	r.users[in.TeleID] = user

	r.locations[in.TeleID] = model.SeenAt(r.locations[in.TeleID], in.TeleID, in.IPAddress, previousIP, in.At)

	locs := append([]model.Location(nil), r.locations[in.TeleID]...)
	return &Snapshot{User: user, Locations: locs}, nil
}

func (r *MemoryUserRepository) codeTaken(code string) bool {
	for _, u := range r.users {
		if u.ReferralCode == code {
			return true
		}
	}
	return false
}

func (r *MemoryUserRepository) uniqueCode(referralBy string, newCode func() (string, error)) (string, error) {
	for i := 0; i < maxReferralAttempts; i++ {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		if code != referralBy && !r.codeTaken(code) {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique referral code")
}

func (r *MemoryUserRepository) Flush(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.users[snap.User.TeleID]
	if !ok {
		return ErrNotFound
	}
	user := snap.User
	user.CreatedAt = prev.CreatedAt
	r.users[user.TeleID] = user

	locs := r.locations[user.TeleID]
	for _, loc := range snap.Locations {
		locs = upsertLocation(locs, loc)
	}
	r.locations[user.TeleID] = locs
	r.logs = append(r.logs, snap.Logs...)
	return nil
}

func upsertLocation(locs []model.Location, loc model.Location) []model.Location {
	for i := range locs {
		if locs[i].IPAddress == loc.IPAddress {
			locs[i].LastActiveAt = loc.LastActiveAt
			locs[i].PreviousIP = loc.PreviousIP
			return locs
		}
	}
	return append(locs, loc)
}

// Logs returns every activity log flushed so far.
func (r *MemoryUserRepository) Logs() []model.ActivityLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ActivityLog(nil), r.logs...)
}

// Put seeds or replaces a user, bypassing login.
func (r *MemoryUserRepository) Put(u model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.TeleID] = u
}
