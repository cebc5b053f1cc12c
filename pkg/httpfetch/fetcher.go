package httpfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of a failed response is kept in an HTTPError.
const maxErrorBody = 4 << 10

// HTTPError is a custom error that captures unexpected status codes and response bodies.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// userAgentRoundTripper is a custom RoundTripper that adds a User-Agent header.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTokenSource authenticates every request with bearer tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(f *Fetcher) {
		f.tokenSource = ts
	}
}

// Fetcher implements blobcache.Fetcher over HTTP. Server errors, 429 and
// transport failures are retried with exponential backoff; any other failure
// is returned at once.
type Fetcher struct {
	client      *http.Client
	cfg         Config
	tokenSource oauth2.TokenSource
	logger      zerolog.Logger
}

var _ blobcache.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher. base may be nil; it is copied, never modified.
func New(cfg *Config, base *http.Client, logger zerolog.Logger, opts ...Option) (*Fetcher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		return nil, fmt.Errorf("invalid backoff settings: initial %s, max %s", cfg.InitialBackoff, cfg.MaxBackoff)
	}

	f := &Fetcher{
		cfg:    *cfg,
		logger: logger.With().Str("component", "HTTPFetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}

	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if f.tokenSource != nil {
		transport = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, f.tokenSource), Base: transport}
	}
	if cfg.UserAgent != "" {
		transport = &userAgentRoundTripper{Wrapped: transport, UserAgent: cfg.UserAgent}
	}
	client.Transport = transport
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	f.client = client
	return f, nil
}

// Fetch performs req and returns the body of a 2xx response.
func (f *Fetcher) Fetch(ctx context.Context, req *blobcache.Request) ([]byte, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     f.cfg.InitialBackoff,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         f.cfg.MaxBackoff,
	}
	b.Reset()

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		return f.do(ctx, method, req)
	}
	notify := func(err error, next time.Duration) {
		f.logger.Warn().Err(err).Str("url", req.URL).Int("attempt", attempt).Dur("retry_in", next).Msg("Fetch failed, retrying.")
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.cfg.MaxRetries+1),
		backoff.WithNotify(notify),
	)
	if err != nil {
		f.logger.Error().Err(err).Str("url", req.URL).Int("attempts", attempt).Msg("Fetch failed.")
		return nil, err
	}
	f.logger.Debug().Str("url", req.URL).Int("bytes", len(body)).Msg("Fetch complete.")
	return body, nil
}

// do performs a single attempt. Errors not worth retrying are marked permanent.
func (f *Fetcher) do(ctx context.Context, method string, req *blobcache.Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		// A token endpoint refusal will not improve on retry.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: errBody}
		if httpErr.Retryable() {
			return nil, httpErr
		}
		return nil, backoff.Permanent(httpErr)
	}

	limit := f.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultConfig().MaxBodyBytes
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if n > limit {
		return nil, backoff.Permanent(fmt.Errorf("response body exceeds %d bytes", limit))
	}
	return buf.Bytes(), nil
}
