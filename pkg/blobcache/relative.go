package blobcache

import (
	"context"
	"time"
)

// ExpiresIn returns the instant d after clock's current time. Expirations
// are computed from the store's clock, never the caller's wall clock.
func ExpiresIn(clock Clock, d time.Duration) time.Time {
	return clock.Now().Add(d)
}

// InsertFor inserts data under key so that it expires d after the store's current time.
func InsertFor(ctx context.Context, store BlobStore, key string, data []byte, d time.Duration) error {
	return store.Insert(ctx, key, data, ExpiresIn(store.Clock(), d))
}
