package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/rs/zerolog"
)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithIgnoreOrigin skips events published by origin, normally the
// PublishingStore of the same process.
func WithIgnoreOrigin(origin string) ListenerOption {
	return func(l *Listener) {
		l.ignoreOrigin = origin
	}
}

// Listener receives invalidation events from a subscription and applies them
// to a local store.
type Listener struct {
	subscription *pubsub.Subscription
	store        blobcache.BlobStore
	ignoreOrigin string
	logger       zerolog.Logger
	stopOnce     sync.Once
	doneChan     chan struct{}

	// mu guards the receive lifecycle shared by Start and Stop.
	mu                 sync.Mutex
	started            bool
	stopped            bool
	cancelSubscription context.CancelFunc
}

// NewListener creates a Listener for cfg.SubscriptionID. When store is a
// PublishingStore, events are applied to the store it wraps so they are not
// published again.
func NewListener(ctx context.Context, cfg *Config, client *pubsub.Client, store blobcache.BlobStore, logger zerolog.Logger, opts ...ListenerOption) (*Listener, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg == nil || cfg.SubscriptionID == "" {
		return nil, errors.New("subscription ID is required")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	if p, ok := store.(*PublishingStore); ok {
		store = p.Unwrap()
	}

	l := &Listener{
		subscription: sub,
		store:        store,
		logger:       logger.With().Str("component", "InvalidationListener").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start begins receiving in the background. It returns immediately. A
// Listener can be started once and not after Stop.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return errors.New("listener has been stopped")
	}
	if l.started {
		return errors.New("listener already started")
	}
	l.started = true

	l.logger.Info().Msg("Starting invalidation listener...")
	receiveCtx, cancel := context.WithCancel(ctx)
	l.cancelSubscription = cancel
	go func() {
		defer close(l.doneChan)
		defer l.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		err := l.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			if err := l.Handle(ctx, msg.Data); err != nil {
				l.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to apply invalidation event, Nacking.")
				msg.Nack()
				return
			}
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Handle applies one published payload. Malformed payloads and events from
// the ignored origin are dropped without error so they are not redelivered.
func (l *Listener) Handle(ctx context.Context, data []byte) error {
	e, err := DecodeEvent(data)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Dropping malformed invalidation event.")
		return nil
	}
	if l.ignoreOrigin != "" && e.Origin == l.ignoreOrigin {
		return nil
	}
	if err := e.Apply(ctx, l.store); err != nil {
		return err
	}
	l.logger.Debug().Str("op", string(e.Op)).Str("key", e.Key).Str("origin", e.Origin).Msg("Applied invalidation event.")
	return nil
}

// Stop cancels receiving and waits for the receive goroutine to exit.
func (l *Listener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		l.logger.Info().Msg("Stopping invalidation listener...")
		l.mu.Lock()
		l.stopped = true
		cancel := l.cancelSubscription
		l.mu.Unlock()
		if cancel == nil {
			close(l.doneChan)
			return
		}
		cancel()
		select {
		case <-l.doneChan:
			l.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-time.After(30 * time.Second):
			l.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			err = errors.New("timeout waiting for listener to stop")
		}
	})
	return err
}

// Done is closed once the listener has stopped.
func (l *Listener) Done() <-chan struct{} { return l.doneChan }
