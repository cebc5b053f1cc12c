package blobstore_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/illmade-knight/go-blobcache/pkg/blobstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// t.Setenv restores the variables after the test.
	for _, name := range []string{"BLOBCACHE_BACKEND", "BLOBCACHE_COMPRESS_THRESHOLD", "BLOBCACHE_REDIS_KEY_PREFIX",
		"BLOBCACHE_FIRESTORE_COLLECTION", "BLOBCACHE_GCS_OBJECT_PREFIX", "BLOBCACHE_PASSPHRASE"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	cfg, err := blobstore.LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, blobstore.BackendMemory, cfg.Backend)
	assert.Equal(t, 1024, cfg.CompressThreshold)
	assert.Equal(t, "blobcache:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "blob-entries", cfg.Firestore.CollectionName)
	assert.Equal(t, "blobcache/", cfg.GCS.ObjectPrefix)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("BLOBCACHE_BACKEND", "redis")
	t.Setenv("BLOBCACHE_REDIS_ADDR", "localhost:6379")
	t.Setenv("BLOBCACHE_REDIS_DB", "3")
	t.Setenv("BLOBCACHE_COMPRESS", "true")
	t.Setenv("BLOBCACHE_PASSPHRASE", "secret")
	t.Setenv("BLOBCACHE_SALT", "0123456789abcdef")

	cfg, err := blobstore.LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, blobstore.BackendRedis, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Compress)
	assert.Equal(t, "secret", cfg.Passphrase)
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name string
		cfg  blobstore.Config
	}{
		{name: "unknown backend", cfg: blobstore.Config{Backend: "tape"}},
		{name: "sqlite without path", cfg: blobstore.Config{Backend: blobstore.BackendSQLite}},
		{name: "redis without addr", cfg: blobstore.Config{Backend: blobstore.BackendRedis}},
		{name: "firestore without project", cfg: blobstore.Config{Backend: blobstore.BackendFirestore}},
		{name: "gcs without bucket", cfg: blobstore.Config{Backend: blobstore.BackendGCS}},
		{name: "negative max entries", cfg: blobstore.Config{Backend: blobstore.BackendMemory, MaxEntries: -1}},
		{name: "short salt", cfg: blobstore.Config{Backend: blobstore.BackendMemory, Passphrase: "p", Salt: "short"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestOpen_BuildsDecoratorChain(t *testing.T) {
	// Arrange
	ctx := context.Background()
	clock := blobcache.NewManualClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	cfg := &blobstore.Config{
		Backend:           blobstore.BackendSQLite,
		SQLite:            blobstore.SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")},
		Compress:          true,
		CompressThreshold: 16,
		Passphrase:        "correct horse battery staple",
		Salt:              "0123456789abcdef",
	}

	// Act
	store, err := blobstore.Open(ctx, cfg, zerolog.Nop(), blobstore.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// Assert
	assert.True(t, blobcache.IsEncrypted(store))
	assert.Equal(t, clock.Now(), store.Clock().Now())
	compressed, ok := store.(*blobstore.CompressedStore)
	require.True(t, ok, "compression must wrap encryption")
	_, ok = compressed.Unwrap().(*blobstore.EncryptedStore)
	assert.True(t, ok)

	require.NoError(t, store.Insert(ctx, "k", []byte("value"), clock.Now().Add(time.Minute)))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	clock.Advance(time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
}

func TestOpen_CompressesBeforeEncrypting(t *testing.T) {
	// Arrange
	ctx := context.Background()
	cfg := &blobstore.Config{
		Backend:           blobstore.BackendMemory,
		Compress:          true,
		CompressThreshold: 1024,
		Passphrase:        "correct horse battery staple",
		Salt:              "0123456789abcdef",
	}
	store, err := blobstore.Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	payload := bytes.Repeat([]byte("a"), 64*1024)

	// Act
	require.NoError(t, store.Insert(ctx, "big", payload, time.Time{}))

	// Assert
	var raw blobcache.BlobStore = store
	for {
		w, ok := raw.(blobcache.Wrapper)
		if !ok {
			break
		}
		raw = w.Unwrap()
	}
	_, ok := raw.(*blobcache.InMemoryStore)
	require.True(t, ok)

	stored, err := raw.Get(ctx, "big")
	require.NoError(t, err)
	assert.Less(t, len(stored), len(payload)/10, "compressible payload should shrink at rest")
	assert.False(t, bytes.Contains(stored, []byte("aaaaaaaa")))

	got, err := store.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpen_Memory(t *testing.T) {
	store, err := blobstore.Open(context.Background(), &blobstore.Config{Backend: blobstore.BackendMemory, MaxEntries: 1}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.False(t, blobcache.IsEncrypted(store))
	_, ok := store.(*blobcache.InMemoryStore)
	assert.True(t, ok)
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	_, err := blobstore.Open(context.Background(), &blobstore.Config{Backend: "tape"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = blobstore.Open(context.Background(), nil, zerolog.Nop())
	assert.Error(t, err)
}
