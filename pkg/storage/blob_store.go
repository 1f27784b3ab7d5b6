package storage

import (
	"context"
	"io"
)

// BlobStore persists picture bytes keyed by a server-generated name.
type BlobStore interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
