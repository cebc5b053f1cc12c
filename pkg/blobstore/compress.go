package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/klauspost/compress/zstd"
)

// DefaultCompressionThreshold is the payload size from which CompressedStore
// tries zstd.
const DefaultCompressionThreshold = 1024

// Payload header bytes.
const (
	formatRaw  byte = 0
	formatZstd byte = 1
)

// CompressedStore compresses payloads at or above a size threshold before
// handing them to the wrapped store. Every stored payload starts with a
// one-byte header naming its format; compression is skipped when it would
// not save space.
type CompressedStore struct {
	inner     blobcache.BlobStore
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCompressedStore wraps inner. A threshold of 0 or less selects
// DefaultCompressionThreshold.
func NewCompressedStore(inner blobcache.BlobStore, threshold int) (*CompressedStore, error) {
	if inner == nil {
		return nil, errors.New("inner store cannot be nil")
	}
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &CompressedStore{inner: inner, threshold: threshold, encoder: enc, decoder: dec}, nil
}

// Unwrap returns the wrapped store.
func (s *CompressedStore) Unwrap() blobcache.BlobStore { return s.inner }

// Insert implements blobcache.BlobStore.
func (s *CompressedStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	return s.inner.Insert(ctx, key, s.pack(data), expiresAt)
}

func (s *CompressedStore) pack(data []byte) []byte {
	if len(data) >= s.threshold {
		out := s.encoder.EncodeAll(data, []byte{formatZstd})
		if len(out) < len(data)+1 {
			return out
		}
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, formatRaw)
	return append(out, data...)
}

// Get implements blobcache.BlobStore. Payloads that cannot be decoded fail
// with ErrIntegrity.
func (s *CompressedStore) Get(ctx context.Context, key string) ([]byte, error) {
	stored, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("payload for key '%s' has no header: %w", key, ErrIntegrity)
	}
	switch stored[0] {
	case formatRaw:
		return stored[1:], nil
	case formatZstd:
		data, err := s.decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress payload for key '%s': %w: %v", key, ErrIntegrity, err)
		}
		if data == nil {
			data = []byte{}
		}
		return data, nil
	default:
		return nil, fmt.Errorf("payload for key '%s' has unknown format %d: %w", key, stored[0], ErrIntegrity)
	}
}

// GetCreatedAt implements blobcache.BlobStore.
func (s *CompressedStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	return s.inner.GetCreatedAt(ctx, key)
}

// Invalidate implements blobcache.BlobStore.
func (s *CompressedStore) Invalidate(ctx context.Context, key string) error {
	return s.inner.Invalidate(ctx, key)
}

// InvalidateAll implements blobcache.BlobStore.
func (s *CompressedStore) InvalidateAll(ctx context.Context) error {
	return s.inner.InvalidateAll(ctx)
}

// Vacuum implements blobcache.BlobStore.
func (s *CompressedStore) Vacuum(ctx context.Context) error {
	return s.inner.Vacuum(ctx)
}

// Clock implements blobcache.BlobStore.
func (s *CompressedStore) Clock() blobcache.Clock { return s.inner.Clock() }

// Close releases the codecs and closes the wrapped store.
func (s *CompressedStore) Close() error {
	s.decoder.Close()
	return errors.Join(s.encoder.Close(), s.inner.Close())
}
