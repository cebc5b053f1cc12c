// Package blobcachetest provides a conformance suite for blobcache.BlobStore
// implementations.
package blobcachetest

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a new, empty store that uses clock for expiration.
// The factory is responsible for registering cleanup with t.
type Factory func(t *testing.T, clock *blobcache.ManualClock) blobcache.BlobStore

// RunStoreSuite checks store behaviour shared by every BlobStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Helper()

	setup := func(t *testing.T) (context.Context, *blobcache.ManualClock, blobcache.BlobStore) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		t.Cleanup(cancel)
		clock := blobcache.NewManualClock(time.Now().UTC().Truncate(time.Microsecond))
		return ctx, clock, newStore(t, clock)
	}

	t.Run("Insert then Get without expiration", func(t *testing.T) {
		ctx, _, store := setup(t)

		err := store.Insert(ctx, "k1", []byte{1, 2, 3}, time.Time{})
		require.NoError(t, err)

		got, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, got)
	})

	t.Run("Get of a missing key is KeyNotFound", func(t *testing.T) {
		ctx, _, store := setup(t)

		_, err := store.Get(ctx, "never-written")
		assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
	})

	t.Run("Insert replaces the previous entry", func(t *testing.T) {
		ctx, _, store := setup(t)

		require.NoError(t, store.Insert(ctx, "k", []byte("first"), time.Time{}))
		require.NoError(t, store.Insert(ctx, "k", []byte("second"), time.Time{}))

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("Entries expire against the store clock", func(t *testing.T) {
		ctx, clock, store := setup(t)

		err := store.Insert(ctx, "k1", []byte{1, 2, 3}, clock.Now().Add(time.Hour))
		require.NoError(t, err)

		clock.Advance(30 * time.Minute)
		got, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, got)

		clock.Advance(40 * time.Minute)
		_, err = store.Get(ctx, "k1")
		assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
	})

	t.Run("An entry is dead at its exact expiration", func(t *testing.T) {
		ctx, clock, store := setup(t)

		expiresAt := clock.Now().Add(time.Minute)
		require.NoError(t, store.Insert(ctx, "k", []byte("v"), expiresAt))

		clock.Set(expiresAt)
		_, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
	})

	t.Run("Invalidate removes the entry", func(t *testing.T) {
		ctx, _, store := setup(t)

		require.NoError(t, store.Insert(ctx, "k", []byte("v"), time.Time{}))
		require.NoError(t, store.Invalidate(ctx, "k"))

		_, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)

		// Invalidating an absent key is not an error.
		assert.NoError(t, store.Invalidate(ctx, "k"))
		assert.NoError(t, store.Invalidate(ctx, "never-written"))
	})

	t.Run("InvalidateAll removes every entry", func(t *testing.T) {
		ctx, _, store := setup(t)

		for _, key := range []string{"a", "b", "https://example.com/path?q=1"} {
			require.NoError(t, store.Insert(ctx, key, []byte(key), time.Time{}))
		}
		require.NoError(t, store.InvalidateAll(ctx))

		for _, key := range []string{"a", "b", "https://example.com/path?q=1"} {
			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, blobcache.ErrKeyNotFound, "key %s should be gone", key)
		}
	})

	t.Run("GetCreatedAt reports the insertion time", func(t *testing.T) {
		ctx, clock, store := setup(t)
		insertedAt := clock.Now()

		require.NoError(t, store.Insert(ctx, "k", []byte("v"), time.Time{}))
		clock.Advance(5 * time.Minute)

		createdAt, ok, err := store.GetCreatedAt(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.WithinDuration(t, insertedAt, createdAt, time.Millisecond)

		_, ok, err = store.GetCreatedAt(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GetCreatedAt ignores expired entries", func(t *testing.T) {
		ctx, clock, store := setup(t)

		require.NoError(t, store.Insert(ctx, "k", []byte("v"), clock.Now().Add(time.Second)))
		clock.Advance(time.Minute)

		_, ok, err := store.GetCreatedAt(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Vacuum purges only expired entries", func(t *testing.T) {
		ctx, clock, store := setup(t)

		require.NoError(t, store.Insert(ctx, "short", []byte("s"), clock.Now().Add(time.Minute)))
		require.NoError(t, store.Insert(ctx, "long", []byte("l"), clock.Now().Add(time.Hour)))
		require.NoError(t, store.Insert(ctx, "forever", []byte("f"), time.Time{}))

		clock.Advance(10 * time.Minute)
		require.NoError(t, store.Vacuum(ctx))

		_, err := store.Get(ctx, "short")
		assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
		got, err := store.Get(ctx, "long")
		require.NoError(t, err)
		assert.Equal(t, []byte("l"), got)
		got, err = store.Get(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, []byte("f"), got)
	})

	t.Run("Binary and empty payloads round trip", func(t *testing.T) {
		ctx, _, store := setup(t)

		binary := make([]byte, 256)
		for i := range binary {
			binary[i] = byte(i)
		}
		require.NoError(t, store.Insert(ctx, "binary", binary, time.Time{}))
		require.NoError(t, store.Insert(ctx, "empty", []byte{}, time.Time{}))

		got, err := store.Get(ctx, "binary")
		require.NoError(t, err)
		assert.Equal(t, binary, got)

		got, err = store.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Returned data is not shared with the store", func(t *testing.T) {
		ctx, _, store := setup(t)

		input := []byte("immutable")
		require.NoError(t, store.Insert(ctx, "k", input, time.Time{}))
		input[0] = 'X'

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		got[1] = 'Y'

		again, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("immutable"), again)
	})

	t.Run("Clock returns the configured clock", func(t *testing.T) {
		_, clock, store := setup(t)
		assert.Equal(t, clock.Now(), store.Clock().Now())
	})
}
