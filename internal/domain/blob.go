package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	// Put uploads data in a single request.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error

	// PutMultipart uploads data in parts. partSize below the backend
	// minimum is clamped.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves objects from cold storage.
type BlobReader interface {
	// Get returns the object body; the caller closes it. Missing objects
	// map to ErrNotFound.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// List returns metadata for every object under the prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	// Exists reports whether an object is present at the path.
	Exists(ctx context.Context, path string) (bool, error)
}
