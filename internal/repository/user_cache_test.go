package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmgate/internal/model"
)

func fixedCode(code string) func() (string, error) {
	return func() (string, error) { return code, nil }
}

func TestUserCacheHydrateSnapshotEvict(t *testing.T) {
	ctx := context.Background()
	cache := NewUserCache(NewMemoryEntityStore())
	repo := NewMemoryUserRepository()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap, err := repo.Login(ctx, LoginInput{TeleID: "1", Name: "Ann", IPAddress: "10.0.0.1", At: at}, fixedCode("CODE1"))
	require.NoError(t, err)
	require.NoError(t, cache.Hydrate(ctx, snap))

	got, ok, err := cache.Snapshot(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ann", got.User.Name)
	assert.Equal(t, "CODE1", got.User.ReferralCode)
	require.Len(t, got.Locations, 1)
	assert.Equal(t, "10.0.0.1", got.Locations[0].IPAddress)
	assert.Empty(t, got.Logs)

	got.User.FarmLevel = 2
	require.NoError(t, cache.Commit(ctx, &got.User, &model.ActivityLog{TeleID: "1", LogType: "farm/upgrade", CreatedAt: at}))
	require.NoError(t, cache.Commit(ctx, &got.User, nil))
	got, _, err = cache.Snapshot(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.User.FarmLevel)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "farm/upgrade", got.Logs[0].LogType)

	require.NoError(t, cache.Evict(ctx, "1"))
	_, ok, err = cache.Snapshot(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserCacheRefresh(t *testing.T) {
	ctx := context.Background()
	cache := NewUserCache(NewMemoryEntityStore())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	resident, err := cache.Refresh(ctx, LoginInput{TeleID: "1", At: at})
	require.NoError(t, err)
	assert.False(t, resident)

	u := model.User{TeleID: "1", Name: "Old", IPLocation: &model.IPLocation{IPAddress: "10.0.0.1", SeenAt: at}}
	u.Credit(model.AssetTPL, decimal.NewFromInt(5), at)
	require.NoError(t, cache.Hydrate(ctx, &Snapshot{User: u, Locations: []model.Location{{TeleID: "1", IPAddress: "10.0.0.1"}}}))

	later := at.Add(time.Hour)
	resident, err = cache.Refresh(ctx, LoginInput{TeleID: "1", Name: "New", IPAddress: "10.0.0.2", At: later})
	require.NoError(t, err)
	require.True(t, resident)

	snap, _, err := cache.Snapshot(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "New", snap.User.Name)
	assert.True(t, snap.User.Balances.Of(model.AssetTPL).Equal(decimal.NewFromInt(5)), "balances survive a refresh")
	assert.Equal(t, "10.0.0.2", snap.User.IPLocation.IPAddress)
	require.Len(t, snap.Locations, 2)
	assert.Equal(t, "10.0.0.1", snap.Locations[1].PreviousIP)
}
