package archive

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// The interfaces below abstract the Google Cloud Storage client so the
// uploader can be tested against an in-memory implementation.

// StorageClient abstracts the top-level *storage.Client.
type StorageClient interface {
	Bucket(name string) BucketHandle
}

// BucketHandle abstracts a *storage.BucketHandle.
type BucketHandle interface {
	Object(name string) ObjectHandle
}

// ObjectHandle abstracts a *storage.ObjectHandle.
type ObjectHandle interface {
	NewWriter(ctx context.Context) ObjectWriter
}

// ObjectWriter abstracts a *storage.Writer.
type ObjectWriter interface {
	io.WriteCloser
}

// NewStorageClientAdapter makes a concrete *storage.Client conform to the
// StorageClient interface.
func NewStorageClientAdapter(client *storage.Client) StorageClient {
	if client == nil {
		return nil
	}
	return &storageClientAdapter{client: client}
}

type storageClientAdapter struct {
	client *storage.Client
}

func (a *storageClientAdapter) Bucket(name string) BucketHandle {
	return &bucketHandleAdapter{handle: a.client.Bucket(name)}
}

type bucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *bucketHandleAdapter) Object(name string) ObjectHandle {
	return &objectHandleAdapter{handle: a.handle.Object(name)}
}

type objectHandleAdapter struct {
	handle *storage.ObjectHandle
}

// NewWriter returns the underlying *storage.Writer, which already satisfies
// the ObjectWriter interface.
func (a *objectHandleAdapter) NewWriter(ctx context.Context) ObjectWriter {
	return a.handle.NewWriter(ctx)
}
