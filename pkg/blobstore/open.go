package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/rs/zerolog"
)

// Open builds the store chain described by cfg: the backend, then
// encryption, then compression outermost, so payloads are compressed before
// they are sealed. Clients created here are closed with the returned store.
func Open(ctx context.Context, cfg *Config, logger zerolog.Logger, opts ...Option) (blobcache.BlobStore, error) {
	if cfg == nil {
		return nil, errors.New("blob store config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := openBackend(ctx, cfg, logger, opts)
	if err != nil {
		return nil, err
	}

	if cfg.Passphrase != "" {
		key, err := DeriveKey([]byte(cfg.Passphrase), []byte(cfg.Salt))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		encrypted, err := NewEncryptedStore(store, key)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = encrypted
	}

	if cfg.Compress {
		compressed, err := NewCompressedStore(store, cfg.CompressThreshold)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = compressed
	}

	logger.Info().
		Str("backend", cfg.Backend).
		Bool("compressed", cfg.Compress).
		Bool("encrypted", blobcache.IsEncrypted(store)).
		Msg("Blob store opened.")
	return store, nil
}

func openBackend(ctx context.Context, cfg *Config, logger zerolog.Logger, opts []Option) (blobcache.BlobStore, error) {
	switch cfg.Backend {
	case BackendMemory:
		o, err := applyOptions(opts)
		if err != nil {
			return nil, err
		}
		return blobcache.NewInMemoryStore(blobcache.WithClock(o.clock), blobcache.WithMaxEntries(cfg.MaxEntries))
	case BackendSQLite:
		return NewSQLiteStore(ctx, &cfg.SQLite, logger, opts...)
	case BackendRedis:
		return NewRedisStore(ctx, &cfg.Redis, logger, opts...)
	case BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := NewFirestoreStore(&cfg.Firestore, client, logger, opts...)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &ownedClientStore{BlobStore: store, client: client}, nil
	case BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		store, err := NewGCSStore(&cfg.GCS, NewGCSClientAdapter(client), logger, opts...)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &ownedClientStore{BlobStore: store, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.Backend)
	}
}

// ownedClientStore closes a client that Open created alongside the store.
type ownedClientStore struct {
	blobcache.BlobStore
	client io.Closer
}

func (s *ownedClientStore) Unwrap() blobcache.BlobStore { return s.BlobStore }

func (s *ownedClientStore) Close() error {
	return errors.Join(s.BlobStore.Close(), s.client.Close())
}
