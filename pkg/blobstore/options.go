package blobstore

import (
	"errors"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
)

type options struct {
	clock blobcache.Clock
}

// Option configures a backend store.
type Option func(*options)

// WithClock sets the time source used for created-at stamps and expiry checks.
// Defaults to blobcache.SystemClock.
func WithClock(clock blobcache.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func applyOptions(opts []Option) (options, error) {
	o := options{clock: blobcache.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		return o, errors.New("clock cannot be nil")
	}
	return o, nil
}
