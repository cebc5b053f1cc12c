package blobcache

import (
	"context"
	"io"
	"time"
)

// BlobStore is a durable mapping from string keys to byte blobs with an
// optional absolute expiration. A zero expiresAt means the entry never expires.
//
// Implementations must be safe for concurrent use. An Insert that returns
// before a Get starts must be visible to that Get, and every update replaces
// the whole entry.
type BlobStore interface {
	// Insert stores data under key, replacing any existing entry.
	Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error
	// Get returns the data stored under key, or an error matching
	// ErrKeyNotFound if there is none or it expired at or before Clock().Now().
	Get(ctx context.Context, key string) ([]byte, error)
	// GetCreatedAt returns when the live entry under key was inserted.
	GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error)
	// Invalidate removes key. Removing an absent key is not an error.
	Invalidate(ctx context.Context, key string) error
	// InvalidateAll removes every entry.
	InvalidateAll(ctx context.Context) error
	// Vacuum purges expired entries to reclaim space.
	Vacuum(ctx context.Context) error
	// Clock returns the time source used for expiration.
	Clock() Clock
	io.Closer
}

// Wrapper is implemented by stores that decorate another store.
type Wrapper interface {
	Unwrap() BlobStore
}

// IsEncrypted reports whether store, or any store it wraps, encrypts data at rest.
func IsEncrypted(store BlobStore) bool {
	for store != nil {
		if e, ok := store.(interface{ Encrypted() bool }); ok && e.Encrypted() {
			return true
		}
		w, ok := store.(Wrapper)
		if !ok {
			return false
		}
		store = w.Unwrap()
	}
	return false
}
