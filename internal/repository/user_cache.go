package repository

import (
	"context"
	"fmt"

	"farmgate/internal/model"
)

// locationBook and logBook are the cached documents of the locations and
// logs collections; one document per user.
type locationBook struct {
	Locations []model.Location `json:"locations"`
}

type logBook struct {
	Logs []model.ActivityLog `json:"logs"`
}

// UserCache reads and writes the three cache documents that make up one
// user's session state. Callers hold the user's lock profile for writes.
type UserCache struct {
	entities EntityStore
}

func NewUserCache(entities EntityStore) *UserCache {
	return &UserCache{entities: entities}
}

func (c *UserCache) User(ctx context.Context, teleID string) (*model.User, bool, error) {
	var u model.User
	ok, err := c.entities.Get(ctx, CollectionUsers, teleID, &u)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &u, true, nil
}

func (c *UserCache) PutUser(ctx context.Context, u *model.User) error {
	return c.entities.Set(ctx, CollectionUsers, u.TeleID, u)
}

func (c *UserCache) Locations(ctx context.Context, teleID string) ([]model.Location, error) {
	var book locationBook
	if _, err := c.entities.Get(ctx, CollectionLocations, teleID, &book); err != nil {
		return nil, err
	}
	return book.Locations, nil
}

func (c *UserCache) PutLocations(ctx context.Context, teleID string, locs []model.Location) error {
	return c.entities.Set(ctx, CollectionLocations, teleID, locationBook{Locations: locs})
}

// Commit writes u and, when entry is non-nil, appends it to the pending log
// in one atomic batch.
func (c *UserCache) Commit(ctx context.Context, u *model.User, entry *model.ActivityLog) error {
	docs := []Document{{Collection: CollectionUsers, ID: u.TeleID, Doc: u}}
	if entry != nil {
		var book logBook
		if _, err := c.entities.Get(ctx, CollectionLogs, u.TeleID, &book); err != nil {
			return err
		}
		book.Logs = append(book.Logs, *entry)
		docs = append(docs, Document{Collection: CollectionLogs, ID: u.TeleID, Doc: book})
	}
	return c.entities.SetMany(ctx, docs...)
}

// Snapshot reads the full cached state of teleID; ok is false when the user
// document is absent.
func (c *UserCache) Snapshot(ctx context.Context, teleID string) (*Snapshot, bool, error) {
	u, ok, err := c.User(ctx, teleID)
	if err != nil || !ok {
		return nil, ok, err
	}
	locs, err := c.Locations(ctx, teleID)
	if err != nil {
		return nil, false, err
	}
	var book logBook
	if _, err := c.entities.Get(ctx, CollectionLogs, teleID, &book); err != nil {
		return nil, false, err
	}
	return &Snapshot{User: *u, Locations: locs, Logs: book.Logs}, true, nil
}

// Hydrate writes snap as the user's cache state. The user document goes
// last so a reader that sees it also sees the rest.
func (c *UserCache) Hydrate(ctx context.Context, snap *Snapshot) error {
	teleID := snap.User.TeleID
	if err := c.PutLocations(ctx, teleID, snap.Locations); err != nil {
		return fmt.Errorf("hydrate locations: %w", err)
	}
	logs := snap.Logs
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	if err := c.entities.Set(ctx, CollectionLogs, teleID, logBook{Logs: logs}); err != nil {
		return fmt.Errorf("hydrate logs: %w", err)
	}
	if err := c.PutUser(ctx, &snap.User); err != nil {
		return fmt.Errorf("hydrate user: %w", err)
	}
	return nil
}

// Evict removes the user's cache state, user document first.
func (c *UserCache) Evict(ctx context.Context, teleID string) error {
	for _, coll := range []string{CollectionUsers, CollectionLocations, CollectionLogs} {
		if err := c.entities.Delete(ctx, coll, teleID); err != nil {
			return fmt.Errorf("evict %s: %w", coll, err)
		}
	}
	return nil
}

// Refresh folds a fresh login into the cached state when the user is
// cache-resident and reports whether it was.
func (c *UserCache) Refresh(ctx context.Context, in LoginInput) (bool, error) {
	u, ok, err := c.User(ctx, in.TeleID)
	if err != nil || !ok {
		return false, err
	}
	locs, err := c.Locations(ctx, in.TeleID)
	if err != nil {
		return false, err
	}

	previousIP := applyLogin(u, in)
	locs = model.SeenAt(locs, in.TeleID, in.IPAddress, previousIP, in.At)
	if err := c.PutLocations(ctx, in.TeleID, locs); err != nil {
		return false, err
	}
	if err := c.PutUser(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}
