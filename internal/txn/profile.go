package txn

import (
	"farmgate/internal/lock"
	"farmgate/internal/repository"
)

// ConfigLockKey serializes every writer of the config cache.
var ConfigLockKey = lock.Key(repository.CollectionConfig, "all")

// Profile is the canonical, ordered lock-key set for one logical identity.
// Every call site touching that identity must use the same profile so that
// all coordinators acquire the keys in the same order.
type Profile struct {
	// Collection and ID name the primary entity that must be cache-resident
	// before any lock is taken. An empty Collection skips the check.
	Collection string
	ID         string
	Keys       []string
}

// UserProfile locks a user's record, locations, activity log and nonce marker.
func UserProfile(teleID string) Profile {
	return Profile{
		Collection: repository.CollectionUsers,
		ID:         teleID,
		Keys: []string{
			lock.Key(repository.CollectionUsers, teleID),
			lock.Key(repository.CollectionLocations, teleID),
			lock.Key(repository.CollectionLogs, teleID),
			lock.Key("nonces", teleID),
		},
	}
}

// UserLoginProfile is UserProfile without the residency check; login is what
// makes the user cache-resident.
func UserLoginProfile(teleID string) Profile {
	p := UserProfile(teleID)
	p.Collection = ""
	return p
}

// ConfigProfile guards the whole config mirror.
func ConfigProfile() Profile {
	return Profile{Keys: []string{ConfigLockKey}}
}
