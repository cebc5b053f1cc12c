package blobcache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/illmade-knight/go-blobcache/pkg/blobcache"

// DefaultFlightTimeout bounds a shared fetch when Config.FlightTimeout is unset.
const DefaultFlightTimeout = 5 * time.Minute

// Config holds the collaborators shared by every Cache built from it. It is
// meant to be constructed once at startup.
type Config struct {
	// Serializer encodes typed values. Required by the object and credential APIs.
	Serializer Serializer
	// Fetcher performs requests for DownloadURL.
	Fetcher Fetcher
	// DisableCoalescing lets concurrent misses for one key each run their own fetch.
	DisableCoalescing bool
	// FlightTimeout bounds a shared fetch, which does not stop when one of
	// its callers cancels. Zero selects DefaultFlightTimeout.
	FlightTimeout time.Duration
}

// DefaultConfig returns a Config with a JSONSerializer and no Fetcher.
func DefaultConfig() *Config {
	return &Config{Serializer: JSONSerializer{}}
}

// Cache layers typed objects, read-through fetching and credentials over a
// BlobStore. It is safe for concurrent use.
type Cache struct {
	store         BlobStore
	serializer    Serializer
	fetcher       Fetcher
	coalesce      bool
	flightTimeout time.Duration
	logger        zerolog.Logger
	tracer        trace.Tracer
	flights       singleflight.Group
}

// New creates a Cache over store. A nil cfg behaves as an empty Config:
// operations needing a missing collaborator fail with a ConfigurationError.
func New(cfg *Config, store BlobStore, logger zerolog.Logger) (*Cache, error) {
	if store == nil {
		return nil, errors.New("blob store cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	flightTimeout := cfg.FlightTimeout
	if flightTimeout <= 0 {
		flightTimeout = DefaultFlightTimeout
	}
	return &Cache{
		store:         store,
		serializer:    cfg.Serializer,
		fetcher:       cfg.Fetcher,
		coalesce:      !cfg.DisableCoalescing,
		flightTimeout: flightTimeout,
		logger:        logger.With().Str("component", "BlobCache").Logger(),
		tracer:        otel.Tracer(tracerName),
	}, nil
}

// Store returns the underlying BlobStore.
func (c *Cache) Store() BlobStore { return c.store }

// Clock returns the store's clock.
func (c *Cache) Clock() Clock { return c.store.Clock() }

// Insert stores raw bytes under key.
func (c *Cache) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	return c.store.Insert(ctx, key, data, expiresAt)
}

// InsertFor stores raw bytes under key, expiring d after the store's current time.
func (c *Cache) InsertFor(ctx context.Context, key string, data []byte, d time.Duration) error {
	return InsertFor(ctx, c.store, key, data, d)
}

// Get returns the raw bytes stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.store.Get(ctx, key)
}

// GetCreatedAt returns when the live entry under key was inserted.
func (c *Cache) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	return c.store.GetCreatedAt(ctx, key)
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Invalidate(ctx, key)
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.store.InvalidateAll(ctx)
}

// Vacuum purges expired entries.
func (c *Cache) Vacuum(ctx context.Context) error {
	return c.store.Vacuum(ctx)
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	c.logger.Info().Msg("Closing blob cache.")
	return c.store.Close()
}
