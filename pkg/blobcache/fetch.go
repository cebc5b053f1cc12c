package blobcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Request describes a remote resource for a Fetcher.
type Request struct {
	URL    string
	Method string // Defaults to GET.
	Header http.Header
}

// Fetcher retrieves the body of a remote resource. Retries, if any, are the
// Fetcher's responsibility.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) ([]byte, error)
}

// FetchFunc produces the bytes to cache on a miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// URLKey returns the cache key for a URL: its canonical string form including
// scheme, host, path and query. Two URLs share a key only if they share a
// canonical form. Method and headers never take part in the key.
func URLKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return u.String(), nil
}

// FetchOrDownload returns the live entry for key, or runs fetch and stores its
// result with expiresAt before returning it.
//
// With forceFetch set the store is not read, fetch always runs and its result
// replaces the entry. A failed fetch returns a *FetchError and writes nothing,
// so any previous entry stays retrievable.
//
// Concurrent non-forced misses for the same key and expiration share a single
// fetch unless coalescing is disabled in Config. A shared fetch outlives a
// caller that cancels and is bounded by Config.FlightTimeout instead.
func (c *Cache) FetchOrDownload(ctx context.Context, key string, fetch FetchFunc, forceFetch bool, expiresAt time.Time) (data []byte, err error) {
	if fetch == nil {
		return nil, errors.New("fetch operation cannot be nil")
	}

	ctx, span := c.tracer.Start(ctx, "blobcache.FetchOrDownload", trace.WithAttributes(
		attribute.String("blobcache.key", key),
		attribute.Bool("blobcache.force_fetch", forceFetch),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if forceFetch {
		c.logger.Debug().Str("key", key).Msg("Forced fetch, skipping cache lookup.")
		return c.fetchAndStore(ctx, key, fetch, expiresAt)
	}

	data, err = c.store.Get(ctx, key)
	if err == nil {
		span.SetAttributes(attribute.Bool("blobcache.hit", true))
		c.logger.Debug().Str("key", key).Msg("Cache hit.")
		return data, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		c.logger.Error().Err(err).Str("key", key).Msg("Unexpected store error during fetch.")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("blobcache.hit", false))
	c.logger.Debug().Str("key", key).Msg("Cache miss. Fetching from source.")

	if !c.coalesce {
		return c.fetchAndStore(ctx, key, fetch, expiresAt)
	}

	return c.joinFlight(ctx, key, fetch, expiresAt)
}

// joinFlight runs fetch in a flight shared by callers asking for the same key
// and expiration. The flight is detached from any one caller: a caller that
// gives up gets its own context error while the others keep waiting.
func (c *Cache) joinFlight(ctx context.Context, key string, fetch FetchFunc, expiresAt time.Time) ([]byte, error) {
	flightKey := key + "\x00" + expiresAt.UTC().Format(time.RFC3339Nano)
	results := c.flights.DoChan(flightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()
		// A flight that finished between our Get and this one starting may
		// already have stored the value.
		if cached, getErr := c.store.Get(flightCtx, key); getErr == nil {
			return cached, nil
		}
		return c.fetchAndStore(flightCtx, key, fetch, expiresAt)
	})

	select {
	case <-ctx.Done():
		c.logger.Debug().Str("key", key).Msg("Caller left a shared fetch before it finished.")
		return nil, &FetchError{Key: key, Err: ctx.Err()}
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		data, _ := res.Val.([]byte)
		if res.Shared {
			data = bytes.Clone(data)
		}
		return data, nil
	}
}

// FetchOrDownloadFor is FetchOrDownload with an expiration d after the store's current time.
func (c *Cache) FetchOrDownloadFor(ctx context.Context, key string, fetch FetchFunc, forceFetch bool, d time.Duration) ([]byte, error) {
	return c.FetchOrDownload(ctx, key, fetch, forceFetch, ExpiresIn(c.Clock(), d))
}

// fetchAndStore runs fetch and inserts its result. Nothing is written unless
// fetch succeeds.
func (c *Cache) fetchAndStore(ctx context.Context, key string, fetch FetchFunc, expiresAt time.Time) ([]byte, error) {
	data, err := fetch(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Fetch failed, cache left unchanged.")
		return nil, &FetchError{Key: key, Err: err}
	}
	if data == nil {
		data = []byte{}
	}
	if err := c.store.Insert(ctx, key, data, expiresAt); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to store fetched value.")
		return nil, fmt.Errorf("store fetched value for key '%s': %w", key, err)
	}
	c.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Fetched value stored.")
	return data, nil
}

type downloadOptions struct {
	key       string
	force     bool
	expiresAt time.Time
}

// DownloadOption adjusts a DownloadURL call.
type DownloadOption func(*downloadOptions)

// WithKey stores the download under key instead of the URL's canonical form.
func WithKey(key string) DownloadOption {
	return func(o *downloadOptions) {
		o.key = key
	}
}

// WithForceFetch always issues the request, refreshing the cached entry.
func WithForceFetch() DownloadOption {
	return func(o *downloadOptions) {
		o.force = true
	}
}

// WithExpiration sets the absolute expiration of the stored download.
func WithExpiration(t time.Time) DownloadOption {
	return func(o *downloadOptions) {
		o.expiresAt = t
	}
}

// DownloadURL returns the cached body for req or fetches it with the
// configured Fetcher and caches it. Without WithKey the key is URLKey(req.URL).
func (c *Cache) DownloadURL(ctx context.Context, req *Request, opts ...DownloadOption) ([]byte, error) {
	if c.fetcher == nil {
		return nil, &ConfigurationError{Collaborator: "fetcher"}
	}
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	var o downloadOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := o.key
	if key == "" {
		var err error
		if key, err = URLKey(req.URL); err != nil {
			return nil, err
		}
	}

	outgoing := &Request{
		URL:    req.URL,
		Method: req.Method,
		Header: req.Header.Clone(),
	}
	if outgoing.Method == "" {
		outgoing.Method = http.MethodGet
	}

	return c.FetchOrDownload(ctx, key, func(ctx context.Context) ([]byte, error) {
		return c.fetcher.Fetch(ctx, outgoing)
	}, o.force, o.expiresAt)
}

// DownloadURLFor is DownloadURL with an expiration d after the store's current time.
func (c *Cache) DownloadURLFor(ctx context.Context, req *Request, d time.Duration, opts ...DownloadOption) ([]byte, error) {
	opts = append(opts[:len(opts):len(opts)], WithExpiration(ExpiresIn(c.Clock(), d)))
	return c.DownloadURL(ctx, req, opts...)
}
