package blobstore_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/illmade-knight/go-blobcache/pkg/blobcache/blobcachetest"
	"github.com/illmade-knight/go-blobcache/pkg/blobstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
)

// --- In-memory fakes for the GCS client interfaces ---

type fakeObject struct {
	data       []byte
	metadata   map[string]string
	generation int64
}

type fakeGCSClient struct {
	mu      sync.Mutex
	buckets map[string]*fakeBucket
}

func newFakeGCSClient() *fakeGCSClient {
	return &fakeGCSClient{buckets: make(map[string]*fakeBucket)}
}

func (c *fakeGCSClient) Bucket(name string) blobstore.GCSBucketHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[name]
	if !ok {
		b = &fakeBucket{objects: make(map[string]*fakeObject)}
		c.buckets[name] = b
	}
	return b
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	nextGen int64
}

func (b *fakeBucket) Object(name string) blobstore.GCSObjectHandle {
	return &fakeObjectHandle{bucket: b, name: name}
}

func (b *fakeBucket) Objects(_ context.Context, q *storage.Query) blobstore.GCSObjectIterator {
	b.mu.Lock()
	defer b.mu.Unlock()
	var attrs []*storage.ObjectAttrs
	for name, obj := range b.objects {
		if q != nil && !strings.HasPrefix(name, q.Prefix) {
			continue
		}
		attrs = append(attrs, obj.attrs(name))
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return &fakeIterator{attrs: attrs}
}

func (b *fakeBucket) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name := range b.objects {
		names = append(names, name)
	}
	return names
}

func (o *fakeObject) attrs(name string) *storage.ObjectAttrs {
	meta := make(map[string]string, len(o.metadata))
	for k, v := range o.metadata {
		meta[k] = v
	}
	return &storage.ObjectAttrs{Name: name, Generation: o.generation, Metadata: meta, Size: int64(len(o.data))}
}

type fakeIterator struct {
	attrs []*storage.ObjectAttrs
}

func (it *fakeIterator) Next() (*storage.ObjectAttrs, error) {
	if len(it.attrs) == 0 {
		return nil, iterator.Done
	}
	next := it.attrs[0]
	it.attrs = it.attrs[1:]
	return next, nil
}

type fakeObjectHandle struct {
	bucket     *fakeBucket
	name       string
	generation int64
}

func (h *fakeObjectHandle) NewWriter(ctx context.Context, metadata map[string]string) blobstore.GCSWriter {
	return &fakeWriter{ctx: ctx, handle: h, metadata: metadata}
}

func (h *fakeObjectHandle) lookup() (*fakeObject, error) {
	obj, ok := h.bucket.objects[h.name]
	if !ok || (h.generation != 0 && obj.generation != h.generation) {
		return nil, storage.ErrObjectNotExist
	}
	return obj, nil
}

func (h *fakeObjectHandle) NewReader(_ context.Context) (io.ReadCloser, error) {
	h.bucket.mu.Lock()
	defer h.bucket.mu.Unlock()
	obj, err := h.lookup()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

func (h *fakeObjectHandle) Attrs(_ context.Context) (*storage.ObjectAttrs, error) {
	h.bucket.mu.Lock()
	defer h.bucket.mu.Unlock()
	obj, err := h.lookup()
	if err != nil {
		return nil, err
	}
	return obj.attrs(h.name), nil
}

func (h *fakeObjectHandle) Delete(_ context.Context) error {
	h.bucket.mu.Lock()
	defer h.bucket.mu.Unlock()
	if _, err := h.lookup(); err != nil {
		return err
	}
	delete(h.bucket.objects, h.name)
	return nil
}

func (h *fakeObjectHandle) Generation(gen int64) blobstore.GCSObjectHandle {
	return &fakeObjectHandle{bucket: h.bucket, name: h.name, generation: gen}
}

// fakeWriter commits on Close unless its context was cancelled, like *storage.Writer.
type fakeWriter struct {
	ctx      context.Context
	handle   *fakeObjectHandle
	metadata map[string]string
	buf      bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	b := w.handle.bucket
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextGen++
	b.objects[w.handle.name] = &fakeObject{
		data:       bytes.Clone(w.buf.Bytes()),
		metadata:   w.metadata,
		generation: b.nextGen,
	}
	return nil
}

// --- Tests ---

func newGCSStore(t *testing.T, client blobstore.GCSClient, prefix string, clock blobcache.Clock) *blobstore.GCSStore {
	t.Helper()
	cfg := &blobstore.GCSConfig{BucketName: "test-bucket", ObjectPrefix: prefix}
	store, err := blobstore.NewGCSStore(cfg, client, zerolog.Nop(), blobstore.WithClock(clock))
	require.NoError(t, err)
	return store
}

func TestGCSStore_Conformance(t *testing.T) {
	blobcachetest.RunStoreSuite(t, func(t *testing.T, clock *blobcache.ManualClock) blobcache.BlobStore {
		return newGCSStore(t, newFakeGCSClient(), "blobcache/", clock)
	})
}

func TestGCSStore_ObjectNamesAreHashedUnderPrefix(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := newFakeGCSClient()
	clock := blobcache.NewManualClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	store := newGCSStore(t, client, "cache/", clock)

	// Act
	require.NoError(t, store.Insert(ctx, "https://example.com/a/b?c=d", []byte("v"), time.Time{}))

	// Assert
	names := client.buckets["test-bucket"].names()
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "cache/"))
	assert.Len(t, strings.TrimPrefix(names[0], "cache/"), 64)
	assert.NotContains(t, strings.TrimPrefix(names[0], "cache/"), "/")
}

func TestGCSStore_InvalidateAllKeepsOtherPrefixes(t *testing.T) {
	ctx := context.Background()
	client := newFakeGCSClient()
	clock := blobcache.NewManualClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	store := newGCSStore(t, client, "one/", clock)
	other := newGCSStore(t, client, "two/", clock)

	require.NoError(t, store.Insert(ctx, "k", []byte("1"), time.Time{}))
	require.NoError(t, other.Insert(ctx, "k", []byte("2"), time.Time{}))
	require.NoError(t, store.InvalidateAll(ctx))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, blobcache.ErrKeyNotFound)
	got, err := other.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func TestNewGCSStore_Validation(t *testing.T) {
	_, err := blobstore.NewGCSStore(&blobstore.GCSConfig{BucketName: "b"}, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = blobstore.NewGCSStore(&blobstore.GCSConfig{}, newFakeGCSClient(), zerolog.Nop())
	assert.Error(t, err)
}
