// Package cache stores registry responses between runs.
//
// Three backends implement [Cache]: [FileCache] (the default, one JSON file
// per entry under the user cache directory), [RedisCache] for shared build
// machines, and [NewNullCache] when caching is disabled. Entries carry a TTL;
// expired entries read as misses.
//
// Package archives are not stored here; see package store.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry expiry.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// keyType returns the namespace part of key ("meta" for "meta:..."), used
// to label observability events.
func keyType(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
