package blobcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiresIn(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := blobcache.NewManualClock(start)

	assert.Equal(t, start.Add(90*time.Second), blobcache.ExpiresIn(clock, 90*time.Second))
}

func TestInsertFor(t *testing.T) {
	ctx := context.Background()
	clock := blobcache.NewManualClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	store, err := blobcache.NewInMemoryStore(blobcache.WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, blobcache.InsertFor(ctx, store, "k", []byte("v"), time.Hour))

	clock.Advance(30 * time.Minute)
	_, err = store.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(40 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
}

func TestInsertFor_NonPositiveDurationIsAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	clock := blobcache.NewManualClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	store, err := blobcache.NewInMemoryStore(blobcache.WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, blobcache.InsertFor(ctx, store, "k", []byte("v"), 0))

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
}

func TestExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	assert.False(t, blobcache.Expired(time.Time{}, now), "zero expiration never expires")
	assert.False(t, blobcache.Expired(now.Add(time.Nanosecond), now))
	assert.True(t, blobcache.Expired(now, now))
	assert.True(t, blobcache.Expired(now.Add(-time.Second), now))
}
