// Package regstore persists which version of a scope is active, so a restarted
// process can keep serving its shell before it ever reaches the network.
package regstore

import (
	"context"
	"time"
)

// Record is the persisted registration of one scope.
type Record struct {
	Version     string
	Strategy    string
	Assets      []string
	ActivatedAt time.Time
}

// Store abstracts where registration records live.
// Local keeps records in-process, Disk keeps them in files next to a disk
// provider, and Redis shares them across processes and restarts.
type Store interface {
	// Load returns the record for scope; ok=false when none exists.
	Load(ctx context.Context, scope string) (rec Record, ok bool, err error)
	// Save replaces the record for scope.
	Save(ctx context.Context, scope string, rec Record) error
	// Delete removes the record; missing is not an error.
	Delete(ctx context.Context, scope string) error
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
