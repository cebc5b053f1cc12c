package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/rs/zerolog"
)

// PublishingStore decorates a BlobStore and announces every successful
// Insert, Invalidate and InvalidateAll on a Pub/Sub topic. Publishing is
// asynchronous; failures are logged and never fail the store operation.
type PublishingStore struct {
	inner  blobcache.BlobStore
	topic  *pubsub.Topic
	origin string
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewPublishingStore wraps inner. It verifies that the topic exists,
// respecting the context's deadline.
func NewPublishingStore(ctx context.Context, inner blobcache.BlobStore, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PublishingStore, error) {
	if inner == nil {
		return nil, errors.New("inner store cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	origin := uuid.NewString()
	return &PublishingStore{
		inner:  inner,
		topic:  topic,
		origin: origin,
		logger: logger.With().Str("component", "PublishingStore").Str("topic_id", topicID).Str("origin", origin).Logger(),
	}, nil
}

// Origin identifies events published by this store.
func (s *PublishingStore) Origin() string { return s.origin }

// Unwrap returns the wrapped store.
func (s *PublishingStore) Unwrap() blobcache.BlobStore { return s.inner }

// Insert implements blobcache.BlobStore. Peers drop their copy of key.
func (s *PublishingStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	if err := s.inner.Insert(ctx, key, data, expiresAt); err != nil {
		return err
	}
	s.publish(ctx, Event{Op: OpInvalidate, Key: key})
	return nil
}

// Get implements blobcache.BlobStore.
func (s *PublishingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, key)
}

// GetCreatedAt implements blobcache.BlobStore.
func (s *PublishingStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	return s.inner.GetCreatedAt(ctx, key)
}

// Invalidate implements blobcache.BlobStore.
func (s *PublishingStore) Invalidate(ctx context.Context, key string) error {
	if err := s.inner.Invalidate(ctx, key); err != nil {
		return err
	}
	s.publish(ctx, Event{Op: OpInvalidate, Key: key})
	return nil
}

// InvalidateAll implements blobcache.BlobStore.
func (s *PublishingStore) InvalidateAll(ctx context.Context) error {
	if err := s.inner.InvalidateAll(ctx); err != nil {
		return err
	}
	s.publish(ctx, Event{Op: OpInvalidateAll})
	return nil
}

// Vacuum implements blobcache.BlobStore. Expiry is local, so nothing is published.
func (s *PublishingStore) Vacuum(ctx context.Context) error {
	return s.inner.Vacuum(ctx)
}

// Clock implements blobcache.BlobStore.
func (s *PublishingStore) Clock() blobcache.Clock { return s.inner.Clock() }

// publish queues the event and logs the final result asynchronously.
func (s *PublishingStore) publish(ctx context.Context, e Event) {
	e.Origin = s.origin
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error().Err(err).Str("key", e.Key).Msg("Failed to encode invalidation event.")
		return
	}

	// Publishing outlives the caller's context; only its values are kept.
	result := s.topic.Publish(context.WithoutCancel(ctx), &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"op": string(e.Op)},
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Use a new context for Get to avoid being cancelled by a short-lived publish context.
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			s.logger.Error().Err(err).Str("key", e.Key).Str("op", string(e.Op)).Msg("Failed to publish invalidation event")
			return
		}
		s.logger.Debug().Str("published_msg_id", msgID).Str("key", e.Key).Str("op", string(e.Op)).Msg("Invalidation event sent.")
	}()
}

// Flush waits until queued events are sent, respecting the context's timeout.
func (s *PublishingStore) Flush(ctx context.Context) error {
	// topic.Flush and the result goroutines block, so we wrap them to respect the context.
	done := make(chan struct{})
	go func() {
		s.topic.Flush()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending events, stops the topic and closes the wrapped store.
func (s *PublishingStore) Close() error {
	s.logger.Info().Msg("Stopping invalidation publisher...")
	s.topic.Stop()
	s.wg.Wait()
	return s.inner.Close()
}
