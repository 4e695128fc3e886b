package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrClosed   = errors.New("store: closed")
)

// KV is the durable key/value storage the session cache persists into.
// Concrete drivers (sqlite, redis, memory) implement this. Values are opaque
// strings; the caller owns encoding.
type KV interface {
	// GetItem returns the value stored at key, or ErrNotFound.
	GetItem(ctx context.Context, key string) (string, error)

	// SetItem overwrites the value stored at key.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}
