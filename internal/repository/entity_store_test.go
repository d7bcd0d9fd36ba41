package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmgate/internal/clock"
)

type doc struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

func TestMemoryEntityStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntityStore()

	var got doc
	ok, err := s.Get(ctx, CollectionUsers, "1", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, CollectionUsers, "1", doc{Name: "ann", Level: 3}))
	require.NoError(t, s.Set(ctx, CollectionUsers, "2", doc{Name: "bob", Level: 1}))

	ok, err = s.Get(ctx, CollectionUsers, "1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc{Name: "ann", Level: 3}, got)

	exists, err := s.Exists(ctx, CollectionUsers, "2")
	require.NoError(t, err)
	assert.True(t, exists)

	all, err := s.GetAll(ctx, CollectionUsers)
	require.NoError(t, err)
	require.Len(t, all, 2)
	var decoded doc
	require.NoError(t, DecodeDocument(all["2"], &decoded))
	assert.Equal(t, "bob", decoded.Name)

	require.NoError(t, s.Delete(ctx, CollectionUsers, "1", "2"))
	exists, err = s.Exists(ctx, CollectionUsers, "1")
	require.NoError(t, err)
	assert.False(t, exists)

	all, err = s.GetAll(ctx, CollectionLogs)
	require.NoError(t, err)
	assert.Empty(t, all)
}

type unencodable struct{}

func (unencodable) MarshalJSON() ([]byte, error) { return nil, errors.New("no encoding") }

func TestMemoryEntityStoreSetManyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntityStore()

	err := s.SetMany(ctx,
		Document{Collection: CollectionUsers, ID: "1", Doc: doc{Name: "ann"}},
		Document{Collection: CollectionLogs, ID: "1", Doc: unencodable{}},
	)
	require.Error(t, err)
	exists, err := s.Exists(ctx, CollectionUsers, "1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.SetMany(ctx,
		Document{Collection: CollectionUsers, ID: "1", Doc: doc{Name: "ann", Level: 2}},
		Document{Collection: CollectionLogs, ID: "1", Doc: doc{Name: "log"}},
	))
	var got doc
	ok, err := s.Get(ctx, CollectionUsers, "1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Level)
	ok, err = s.Get(ctx, CollectionLogs, "1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "log", got.Name)
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStateStore(clk)
	key := NonceKey("42")
	assert.Equal(t, "nonces:42", key)

	require.NoError(t, s.SetWithTTL(ctx, key, "n1", time.Hour))
	v, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "n1", v)

	clk.Advance(time.Hour)
	has, err := s.HasTTL(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SetWithTTL(ctx, key, "n2", time.Hour))
	require.NoError(t, s.DeleteTTL(ctx, key))
	_, ok, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
