package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache or has expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Backend is a storage implementation for cache entries.
// Backends report failures; Manager decides that they never reach callers.
type Backend interface {
	// Name is the layer label used in metrics and logs.
	Name() string

	// Get returns the entry for key, or ErrCacheMiss when absent or expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry, replacing any previous entry under the same key.
	Set(ctx context.Context, entry *Entry) error

	// Delete removes the entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Store is the contract request handlers depend on.
// Get never fails (errors are misses) and Set never fails the caller.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
}

// Clock returns the current time. Backends accept one for tests.
type Clock func() time.Time
