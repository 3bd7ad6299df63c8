package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// MetadataKey is the key under which the metadata document for name from
// registry is cached. The registry URL is part of the key so switching
// registries never serves stale documents from another one.
func MetadataKey(registry, name string) string {
	return "meta:" + strings.TrimSuffix(registry, "/") + "/" + name
}
