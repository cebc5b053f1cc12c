package blobcache

import (
	"context"
	"time"
)

// InsertObject serializes value and stores it under key. If encoding fails
// the store is not touched.
func InsertObject[T any](ctx context.Context, c *Cache, key string, value T, expiresAt time.Time) error {
	data, err := encode(c, key, value)
	if err != nil {
		return err
	}
	return c.store.Insert(ctx, key, data, expiresAt)
}

// InsertObjectFor is InsertObject with an expiration d after the store's current time.
func InsertObjectFor[T any](ctx context.Context, c *Cache, key string, value T, d time.Duration) error {
	return InsertObject(ctx, c, key, value, ExpiresIn(c.Clock(), d))
}

// GetObject loads and decodes the value stored under key.
func GetObject[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T
	if c.serializer == nil {
		return zero, &ConfigurationError{Collaborator: "serializer"}
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	return decode[T](c, key, data)
}

// InvalidateObject removes the value stored under key. T only mirrors the
// GetObject call site.
func InvalidateObject[T any](ctx context.Context, c *Cache, key string) error {
	return c.store.Invalidate(ctx, key)
}

// GetOrFetchObject returns the value stored under key or, on a miss, calls
// fetch, stores the encoded result and returns it. It follows the same rules
// as FetchOrDownload: fetch failures and encoding failures write nothing.
func GetOrFetchObject[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error), expiresAt time.Time) (T, error) {
	var zero T
	if c.serializer == nil {
		return zero, &ConfigurationError{Collaborator: "serializer"}
	}
	data, err := c.FetchOrDownload(ctx, key, func(ctx context.Context) ([]byte, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return encode(c, key, value)
	}, false, expiresAt)
	if err != nil {
		return zero, err
	}
	return decode[T](c, key, data)
}

func encode[T any](c *Cache, key string, value T) ([]byte, error) {
	if c.serializer == nil {
		return nil, &ConfigurationError{Collaborator: "serializer"}
	}
	data, err := c.serializer.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to encode value for caching.")
		return nil, &SerializationError{Key: key, Op: "encode", Err: err}
	}
	return data, nil
}

func decode[T any](c *Cache, key string, data []byte) (T, error) {
	var value T
	if err := c.serializer.Unmarshal(data, &value); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to decode cached value.")
		var zero T
		return zero, &SerializationError{Key: key, Op: "decode", Err: err}
	}
	return value, nil
}
