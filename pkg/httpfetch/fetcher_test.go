package httpfetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/illmade-knight/go-blobcache/pkg/httpfetch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testConfig() *httpfetch.Config {
	cfg := httpfetch.DefaultConfig()
	cfg.UserAgent = "TestUserAgent"
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.MaxRetries = 3
	return cfg
}

func newFetcher(t *testing.T, cfg *httpfetch.Config, opts ...httpfetch.Option) *httpfetch.Fetcher {
	t.Helper()
	f, err := httpfetch.New(cfg, nil, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return f
}

func TestFetcher_SendsRequest(t *testing.T) {
	// Arrange
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TestUserAgent" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "wrong user-agent")
			return
		}
		fmt.Fprintf(w, "%s %s %s", r.Method, r.URL.Query().Get("id"), r.Header.Get("X-Api-Key"))
	}))
	defer ts.Close()
	f := newFetcher(t, testConfig())

	// Act
	body, err := f.Fetch(context.Background(), &blobcache.Request{
		URL:    ts.URL + "/data?id=42",
		Method: http.MethodPost,
		Header: http.Header{"X-Api-Key": []string{"k1"}},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "POST 42 k1", string(body))
}

func TestFetcher_DefaultsToGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Method)
	}))
	defer ts.Close()

	body, err := newFetcher(t, testConfig()).Fetch(context.Background(), &blobcache.Request{URL: ts.URL})

	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, string(body))
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
	}{
		{name: "503", status: http.StatusServiceUnavailable},
		{name: "500", status: http.StatusInternalServerError},
		{name: "429", status: http.StatusTooManyRequests},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) < 3 {
					w.WriteHeader(tc.status)
					fmt.Fprint(w, "temporary issue")
					return
				}
				fmt.Fprint(w, "success")
			}))
			defer ts.Close()

			body, err := newFetcher(t, testConfig()).Fetch(context.Background(), &blobcache.Request{URL: ts.URL})

			require.NoError(t, err)
			assert.Equal(t, "success", string(body))
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestFetcher_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "still down")
	}))
	defer ts.Close()
	cfg := testConfig()
	cfg.MaxRetries = 2

	_, err := newFetcher(t, cfg).Fetch(context.Background(), &blobcache.Request{URL: ts.URL})

	require.Error(t, err)
	var httpErr *httpfetch.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "still down", string(httpErr.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := newFetcher(t, testConfig()).Fetch(context.Background(), &blobcache.Request{URL: ts.URL})

	var httpErr *httpfetch.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcher_SendsBearerToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "authorized")
	}))
	defer ts.Close()
	ts2 := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token", TokenType: "Bearer"})

	body, err := newFetcher(t, testConfig(), httpfetch.WithTokenSource(ts2)).
		Fetch(context.Background(), &blobcache.Request{URL: ts.URL})

	require.NoError(t, err)
	assert.Equal(t, "authorized", string(body))
}

func TestFetcher_HonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newFetcher(t, testConfig()).Fetch(ctx, &blobcache.Request{URL: ts.URL})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_RejectsOversizedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer ts.Close()
	cfg := testConfig()
	cfg.MaxBodyBytes = 10

	_, err := newFetcher(t, cfg).Fetch(context.Background(), &blobcache.Request{URL: ts.URL})

	assert.Error(t, err)
}

func TestNew_RejectsInvalidBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBackoff = 0

	_, err := httpfetch.New(cfg, nil, zerolog.Nop())

	assert.Error(t, err)
}

func TestNew_DoesNotModifyBaseClient(t *testing.T) {
	base := &http.Client{}

	_, err := httpfetch.New(testConfig(), base, zerolog.Nop())

	require.NoError(t, err)
	assert.Nil(t, base.Transport)
	assert.Zero(t, base.Timeout)
}

func TestFetcher_WithDownloadURL(t *testing.T) {
	// Arrange: a cache whose DownloadURL goes through the HTTP fetcher.
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintf(w, "report %s", r.URL.Query().Get("q"))
	}))
	defer ts.Close()

	store, err := blobcache.NewInMemoryStore()
	require.NoError(t, err)
	cfg := blobcache.DefaultConfig()
	cfg.Fetcher = newFetcher(t, testConfig())
	c, err := blobcache.New(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	req := &blobcache.Request{URL: ts.URL + "/r?q=1"}

	// Act
	first, err := c.DownloadURL(context.Background(), req)
	require.NoError(t, err)
	second, err := c.DownloadURL(context.Background(), req)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "report 1", string(first))
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}
