package blobcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache/blobcachetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_Conformance(t *testing.T) {
	blobcachetest.RunStoreSuite(t, func(t *testing.T, clock *blobcache.ManualClock) blobcache.BlobStore {
		store, err := blobcache.NewInMemoryStore(blobcache.WithClock(clock))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestInMemoryStore_Eviction(t *testing.T) {
	ctx := context.Background()

	// Arrange: a store holding at most two entries.
	store, err := blobcache.NewInMemoryStore(blobcache.WithMaxEntries(2))
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, "key1", []byte("1"), time.Time{}))
	require.NoError(t, store.Insert(ctx, "key2", []byte("2"), time.Time{}))

	// Act: touch key1 so key2 becomes the least recently used, then add key3.
	_, err = store.Get(ctx, "key1")
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, "key3", []byte("3"), time.Time{}))

	// Assert
	assert.Equal(t, 2, store.Len())
	_, err = store.Get(ctx, "key2")
	assert.ErrorIs(t, err, blobcache.ErrKeyNotFound, "key2 should have been evicted")
	_, err = store.Get(ctx, "key1")
	assert.NoError(t, err, "key1 was recently used and should remain")
	_, err = store.Get(ctx, "key3")
	assert.NoError(t, err)
}

func TestInMemoryStore_ExpiredEntriesAreDroppedOnRead(t *testing.T) {
	ctx := context.Background()
	clock := blobcache.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store, err := blobcache.NewInMemoryStore(blobcache.WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, "k", []byte("v"), clock.Now().Add(time.Second)))
	clock.Advance(time.Second)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestNewInMemoryStore_RejectsInvalidOptions(t *testing.T) {
	_, err := blobcache.NewInMemoryStore(blobcache.WithMaxEntries(-1))
	assert.Error(t, err)

	_, err = blobcache.NewInMemoryStore(blobcache.WithClock(nil))
	assert.Error(t, err)
}

func TestInMemoryStore_HonoursCancelledContext(t *testing.T) {
	store, err := blobcache.NewInMemoryStore()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.Insert(ctx, "k", []byte("v"), time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, blobcache.ErrKeyNotFound, "a cancelled insert must not write")
}

func TestRunVacuum(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := blobcache.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store, err := blobcache.NewInMemoryStore(blobcache.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, "old", []byte("v"), clock.Now().Add(time.Minute)))
	require.NoError(t, store.Insert(ctx, "keep", []byte("v"), time.Time{}))
	clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		blobcache.RunVacuum(ctx, store, 5*time.Millisecond, zerolog.Nop())
	}()

	assert.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunVacuum did not stop after the context was cancelled")
	}
}
