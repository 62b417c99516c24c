// Package provider defines the storage abstraction used by offcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. No metadata, no
// re-encoding, no mutation. Internal transforms (e.g. compression) must be fully
// reversed before Get returns.
//
// Important: the keyspaces "stores:<ns>", "store:<ns>:" and "entry:<ns>:" are owned
// by offcache. External code MUST NOT write under these prefixes; foreign bytes
// fail frame validation and are deleted on read.
//
// offcache never expires entries itself: a store is meant to live until its
// version is purged. Only durable providers (disk, redis without maxmemory
// eviction) honour that. The in-memory ristretto and bigcache adapters are
// bounded caches: once full they evict, and runtime writes can push precached
// shell entries out. An evicted entry reads as a miss, so the asset is served
// from the network again but is no longer available offline. Size them well
// above the shell, or use disk for anything that must boot offline.
package provider

import (
	"context"
)

// Provider is a minimal byte store. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value without expiry. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
