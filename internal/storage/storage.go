// Package storage defines the blob store abstraction used to archive crawl
// artifacts, keeping the engine independent of the concrete backend (local
// filesystem, Google Cloud Storage, or in-memory for tests).
package storage

import "context"

// BlobStore writes raw artifacts and returns a URI locating the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// NoOp discards every object; useful for dry runs.
type NoOp struct{}

// PutObject implements BlobStore without storing anything.
func (NoOp) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	return "noop://" + path, nil
}
