package blobstore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// The interfaces below narrow *storage.Client to what GCSStore needs so the
// store can be unit tested against an in-memory fake.

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
	Objects(ctx context.Context, q *storage.Query) GCSObjectIterator
}

// GCSObjectIterator abstracts a *storage.ObjectIterator. Next returns
// iterator.Done when exhausted.
type GCSObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	// NewWriter returns a writer that creates or replaces the object with the
	// given custom metadata when closed. Cancelling ctx aborts the upload.
	NewWriter(ctx context.Context, metadata map[string]string) GCSWriter
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
	Delete(ctx context.Context) error
	// Generation pins reads to one object generation.
	Generation(gen int64) GCSObjectHandle
}

// GCSWriter abstracts a *storage.Writer.
type GCSWriter interface {
	io.WriteCloser
}

// gcsClientAdapter wraps a *storage.Client to satisfy the GCSClient interface.
type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter creates an adapter that makes the concrete *storage.Client
// conform to the GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

// Bucket returns an adapter for the underlying bucket handle.
func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

// Objects returns the concrete *storage.ObjectIterator, which already has the
// Next method GCSObjectIterator requires.
func (a *gcsBucketHandleAdapter) Objects(ctx context.Context, q *storage.Query) GCSObjectIterator {
	return a.handle.Objects(ctx, q)
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context, metadata map[string]string) GCSWriter {
	w := a.handle.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = metadata
	return w
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *gcsObjectHandleAdapter) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return a.handle.Attrs(ctx)
}

func (a *gcsObjectHandleAdapter) Delete(ctx context.Context) error {
	return a.handle.Delete(ctx)
}

func (a *gcsObjectHandleAdapter) Generation(gen int64) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Generation(gen)}
}
