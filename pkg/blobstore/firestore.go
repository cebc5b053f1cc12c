package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string `env:"PROJECT_ID"`
	CollectionName string `env:"COLLECTION" envDefault:"blob-entries"`
}

// firestoreEntry is the stored document shape. Times are unix nanoseconds,
// ExpiresAt 0 meaning never.
type firestoreEntry struct {
	Key       string `firestore:"key"`
	Data      []byte `firestore:"data"`
	CreatedAt int64  `firestore:"createdAt"`
	ExpiresAt int64  `firestore:"expiresAt"`
}

// FirestoreStore keeps one document per key in a collection. Document IDs are
// the hex SHA-256 of the key since keys such as URLs contain '/'.
//
// Intended for low volume deployments; Redis serves high volume.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	clock          blobcache.Clock
	logger         zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore over an injected client. The
// client's lifecycle is managed by the caller.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger, opts ...Option) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		clock:          o.clock,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collectionName).Doc(hashKey(key))
}

// Insert implements blobcache.BlobStore.
func (s *FirestoreStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	if data == nil {
		data = []byte{}
	}
	entry := firestoreEntry{
		Key:       key,
		Data:      data,
		CreatedAt: s.clock.Now().UnixNano(),
		ExpiresAt: unixNanos(expiresAt),
	}
	if _, err := s.doc(key).Set(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("Successfully wrote data to Firestore.")
	return nil
}

// load returns the live entry for key, or a NotFound error.
func (s *FirestoreStore) load(ctx context.Context, key string) (*firestoreEntry, error) {
	docSnap, err := s.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, blobcache.NotFound(key)
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return nil, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var entry firestoreEntry
	if err := docSnap.DataTo(&entry); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return nil, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	if entry.Key != key || s.expired(entry.ExpiresAt) {
		return nil, blobcache.NotFound(key)
	}
	return &entry, nil
}

// Get implements blobcache.BlobStore.
func (s *FirestoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.Data == nil {
		return []byte{}, nil
	}
	return entry.Data, nil
}

// GetCreatedAt implements blobcache.BlobStore.
func (s *FirestoreStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	entry, err := s.load(ctx, key)
	if errors.Is(err, blobcache.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, entry.CreatedAt).UTC(), true, nil
}

// Invalidate implements blobcache.BlobStore. Deleting a missing document
// succeeds in Firestore.
func (s *FirestoreStore) Invalidate(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete for %s: %w", key, err)
	}
	return nil
}

// InvalidateAll deletes every document in the collection.
func (s *FirestoreStore) InvalidateAll(ctx context.Context) error {
	n, err := s.deleteAll(ctx, s.client.Collection(s.collectionName).Query)
	if err != nil {
		return fmt.Errorf("firestore invalidate all: %w", err)
	}
	s.logger.Info().Int("deleted", n).Msg("Firestore collection cleared.")
	return nil
}

// Vacuum deletes documents whose expiration has passed on the store clock.
func (s *FirestoreStore) Vacuum(ctx context.Context) error {
	q := s.client.Collection(s.collectionName).
		Where("expiresAt", ">", 0).
		Where("expiresAt", "<=", s.clock.Now().UnixNano())
	n, err := s.deleteAll(ctx, q)
	if err != nil {
		return fmt.Errorf("firestore vacuum: %w", err)
	}
	s.logger.Debug().Int("purged", n).Msg("Vacuum complete.")
	return nil
}

func (s *FirestoreStore) deleteAll(ctx context.Context, q firestore.Query) (int, error) {
	iter := q.Select().Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	n := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return n, err
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			bw.End()
			return n, err
		}
		n++
	}
	bw.End()
	return n, nil
}

func (s *FirestoreStore) expired(expiresAt int64) bool {
	if expiresAt == 0 {
		return false
	}
	return blobcache.Expired(time.Unix(0, expiresAt), s.clock.Now())
}

// Clock implements blobcache.BlobStore.
func (s *FirestoreStore) Clock() blobcache.Clock { return s.clock }

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
	return nil
}

// hashKey maps an arbitrary key to a name safe for document IDs and object names.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
