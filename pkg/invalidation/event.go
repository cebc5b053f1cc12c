package invalidation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
)

// Op names what an Event asks receivers to do.
type Op string

const (
	OpInvalidate    Op = "invalidate"
	OpInvalidateAll Op = "invalidate_all"
)

// Event is the message published when an entry changes in one process so
// that peers sharing the same logical cache drop their copies.
type Event struct {
	Op     Op     `json:"op"`
	Key    string `json:"key,omitempty"`
	Origin string `json:"origin"`
}

// Validate checks that the event is well formed.
func (e Event) Validate() error {
	switch e.Op {
	case OpInvalidate:
		if e.Key == "" {
			return fmt.Errorf("invalidate event has no key")
		}
	case OpInvalidateAll:
	default:
		return fmt.Errorf("unknown event op %q", e.Op)
	}
	return nil
}

// Apply performs the event against store.
func (e Event) Apply(ctx context.Context, store blobcache.BlobStore) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Op == OpInvalidateAll {
		return store.InvalidateAll(ctx)
	}
	return store.Invalidate(ctx, e.Key)
}

// DecodeEvent parses and validates a published payload.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode invalidation event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
