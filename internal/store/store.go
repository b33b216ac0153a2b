package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("key not found")

// KeyValueStore holds small text values under fixed keys. The metadata and
// processed cache tiers live here.
type KeyValueStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// BlobStore holds large binary values. The raw cache tier lives here.
type BlobStore interface {
	// GetBlob returns the bytes stored under key, or ErrNotFound.
	GetBlob(ctx context.Context, key string) ([]byte, error)

	// SetBlob stores data under key, replacing any previous value.
	SetBlob(ctx context.Context, key string, data []byte) error

	// DeleteBlob removes key. Deleting a missing key is not an error.
	DeleteBlob(ctx context.Context, key string) error
}

// IsNotFound reports whether err (or any error in its chain) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
