package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Object metadata keys written by GCSStore.
const (
	metaKey     = "blobcache-key"
	metaCreated = "blobcache-created"
	metaExpires = "blobcache-expires"
)

// GCSConfig holds the configuration for a GCS-backed store.
type GCSConfig struct {
	ProjectID    string `env:"PROJECT_ID"`
	BucketName   string `env:"BUCKET"`
	ObjectPrefix string `env:"OBJECT_PREFIX" envDefault:"blobcache/"`
}

// GCSStore keeps one object per key. Object names are the configured prefix
// followed by the hex SHA-256 of the key; the key itself and the created and
// expires stamps travel as custom metadata.
type GCSStore struct {
	bucket GCSBucketHandle
	prefix string
	clock  blobcache.Clock
	logger zerolog.Logger
}

// NewGCSStore creates a GCSStore over an injected client. The client's
// lifecycle is managed by the caller.
func NewGCSStore(cfg *GCSConfig, client GCSClient, logger zerolog.Logger, opts ...Option) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg == nil || cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("bucket", cfg.BucketName).Str("prefix", cfg.ObjectPrefix).Msg("GCSStore initialized.")

	return &GCSStore{
		bucket: client.Bucket(cfg.BucketName),
		prefix: cfg.ObjectPrefix,
		clock:  o.clock,
		logger: logger.With().Str("component", "GCSStore").Logger(),
	}, nil
}

func (s *GCSStore) object(key string) GCSObjectHandle {
	return s.bucket.Object(s.prefix + hashKey(key))
}

// Insert uploads data as a new generation of the key's object.
func (s *GCSStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	// Cancelling the writer context is how an upload is aborted.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.object(key).NewWriter(writeCtx, map[string]string{
		metaKey:     key,
		metaCreated: strconv.FormatInt(s.clock.Now().UnixNano(), 10),
		metaExpires: strconv.FormatInt(unixNanos(expiresAt), 10),
	})
	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write object data.")
		return fmt.Errorf("gcs write for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to finalize object upload.")
		return fmt.Errorf("gcs close for %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Object uploaded.")
	return nil
}

// liveAttrs returns the attributes of the key's object if it is live.
func (s *GCSStore) liveAttrs(ctx context.Context, key string) (*storage.ObjectAttrs, error) {
	attrs, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, blobcache.NotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs attrs for %s: %w", key, err)
	}
	if attrs.Metadata[metaKey] != key || s.expired(attrs.Metadata) {
		return nil, blobcache.NotFound(key)
	}
	return attrs, nil
}

// Get reads the generation whose metadata was checked, so a concurrent
// replacement cannot pair old metadata with new data.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	attrs, err := s.liveAttrs(ctx, key)
	if err != nil {
		return nil, err
	}

	r, err := s.object(key).Generation(attrs.Generation).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, blobcache.NotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs reader for %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read for %s: %w", key, err)
	}
	return data, nil
}

// GetCreatedAt implements blobcache.BlobStore.
func (s *GCSStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	attrs, err := s.liveAttrs(ctx, key)
	if errors.Is(err, blobcache.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(attrs.Metadata[metaCreated], 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("gcs created stamp for %s: %w", key, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Invalidate implements blobcache.BlobStore.
func (s *GCSStore) Invalidate(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete for %s: %w", key, err)
	}
	return nil
}

// InvalidateAll deletes every object under the store prefix.
func (s *GCSStore) InvalidateAll(ctx context.Context) error {
	n, err := s.deleteWhere(ctx, func(*storage.ObjectAttrs) bool { return true })
	if err != nil {
		return fmt.Errorf("gcs invalidate all: %w", err)
	}
	s.logger.Info().Int("deleted", n).Msg("GCS prefix cleared.")
	return nil
}

// Vacuum deletes objects whose expiration has passed on the store clock.
func (s *GCSStore) Vacuum(ctx context.Context) error {
	n, err := s.deleteWhere(ctx, func(attrs *storage.ObjectAttrs) bool {
		return s.expired(attrs.Metadata)
	})
	if err != nil {
		return fmt.Errorf("gcs vacuum: %w", err)
	}
	s.logger.Debug().Int("purged", n).Msg("Vacuum complete.")
	return nil
}

func (s *GCSStore) deleteWhere(ctx context.Context, match func(*storage.ObjectAttrs) bool) (int, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	n := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if !match(attrs) {
			continue
		}
		err = s.bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return n, err
		}
		n++
	}
}

func (s *GCSStore) expired(metadata map[string]string) bool {
	nanos, err := strconv.ParseInt(metadata[metaExpires], 10, 64)
	if err != nil || nanos == 0 {
		return false
	}
	return blobcache.Expired(time.Unix(0, nanos), s.clock.Now())
}

// Clock implements blobcache.BlobStore.
func (s *GCSStore) Clock() blobcache.Clock { return s.clock }

// Close is a no-op as the storage client's lifecycle is managed externally.
func (s *GCSStore) Close() error {
	s.logger.Info().Msg("GCSStore does not close the injected storage client.")
	return nil
}
