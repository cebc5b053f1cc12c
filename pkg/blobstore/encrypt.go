package blobstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of an EncryptedStore key.
const KeySize = chacha20poly1305.KeySize

// MinSaltSize is the shortest salt DeriveKey accepts.
const MinSaltSize = 16

// Argon2id parameters for DeriveKey.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// DeriveKey stretches a passphrase into a KeySize key with Argon2id.
// The same passphrase and salt always yield the same key.
func DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", MinSaltSize)
	}
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

// EncryptedStore seals every payload with XChaCha20-Poly1305 before handing
// it to the wrapped store. Each write uses a fresh random nonce, stored ahead
// of the ciphertext, and the cache key is bound as associated data so a
// payload copied to another key does not open.
type EncryptedStore struct {
	inner blobcache.BlobStore
	aead  cipher.AEAD
}

// NewEncryptedStore wraps inner using a KeySize key.
func NewEncryptedStore(inner blobcache.BlobStore, key []byte) (*EncryptedStore, error) {
	if inner == nil {
		return nil, errors.New("inner store cannot be nil")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &EncryptedStore{inner: inner, aead: aead}, nil
}

// Encrypted reports that data is encrypted at rest.
func (s *EncryptedStore) Encrypted() bool { return true }

// Unwrap returns the wrapped store.
func (s *EncryptedStore) Unwrap() blobcache.BlobStore { return s.inner }

// Insert implements blobcache.BlobStore.
func (s *EncryptedStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(data)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, data, []byte(key))
	return s.inner.Insert(ctx, key, sealed, expiresAt)
}

// Get implements blobcache.BlobStore. Payloads that fail authentication fail
// with ErrIntegrity.
func (s *EncryptedStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, fmt.Errorf("payload for key '%s' is truncated: %w", key, ErrIntegrity)
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	data, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("open payload for key '%s': %w", key, ErrIntegrity)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// GetCreatedAt implements blobcache.BlobStore.
func (s *EncryptedStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	return s.inner.GetCreatedAt(ctx, key)
}

// Invalidate implements blobcache.BlobStore.
func (s *EncryptedStore) Invalidate(ctx context.Context, key string) error {
	return s.inner.Invalidate(ctx, key)
}

// InvalidateAll implements blobcache.BlobStore.
func (s *EncryptedStore) InvalidateAll(ctx context.Context) error {
	return s.inner.InvalidateAll(ctx)
}

// Vacuum implements blobcache.BlobStore.
func (s *EncryptedStore) Vacuum(ctx context.Context) error {
	return s.inner.Vacuum(ctx)
}

// Clock implements blobcache.BlobStore.
func (s *EncryptedStore) Clock() blobcache.Clock { return s.inner.Clock() }

// Close closes the wrapped store.
func (s *EncryptedStore) Close() error {
	return s.inner.Close()
}
