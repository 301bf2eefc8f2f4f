// Package blobstore abstracts flat keyed blob storage for cached artifacts:
// ranked result lists on local disk and archived classifier blobs in remote
// object storage.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that do not exist.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is a flat key/value blob store. Keys are opaque filename-safe
// strings without path separators.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
