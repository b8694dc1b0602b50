// Package storage defines the blob storage abstraction used for exported
// result files. Implementations live in the local, memory and gcs
// subpackages; checkpoint stores live alongside them.
package storage

import (
	"context"
	"io"
)

// BlobStore writes an object and returns a URI describing where it landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
