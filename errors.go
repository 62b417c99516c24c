package offcache

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch: the store holds no response for the request.
	ErrNoMatch = errors.New("offcache: no cached response")
	// ErrStoreNotFound: the named store does not exist (never opened or purged).
	ErrStoreNotFound = errors.New("offcache: store not found")
	// ErrRejected: the provider refused a write under pressure.
	ErrRejected = errors.New("offcache: provider rejected write")
	// ErrNoWaitingWorker: Activate named a version that is neither waiting nor active.
	ErrNoWaitingWorker = errors.New("offcache: no waiting worker for version")
	// ErrInvalidTransition: a lifecycle step was attempted from the wrong state.
	ErrInvalidTransition = errors.New("offcache: invalid state transition")
	ErrClosed            = errors.New("offcache: registration closed")
)

// ManifestFetchError aborts an install: a shell asset could not be fetched,
// answered with a non-2xx status, or could not be stored.
type ManifestFetchError struct {
	Version string
	URL     string
	Status  int // 0 when the fetch itself failed
	Err     error
}

func (e *ManifestFetchError) Error() string {
	switch {
	case e.URL == "":
		return fmt.Sprintf("install %q: %v", e.Version, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("install %q: precache %s: %v", e.Version, e.URL, e.Err)
	default:
		return fmt.Sprintf("install %q: precache %s: bad status %d", e.Version, e.URL, e.Status)
	}
}

func (e *ManifestFetchError) Unwrap() error { return e.Err }

// CacheWriteError is a failed best-effort write. It is logged and reported to
// Hooks, never returned from HandleFetch.
type CacheWriteError struct {
	Store string
	Key   string
	Err   error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %s in %q: %v", e.Key, e.Store, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// NetworkError is the final failure of a fetch: the network failed and, under
// network-first, the store had nothing either. CacheErr is ErrNoMatch on a plain
// miss, or the store error that prevented the lookup.
type NetworkError struct {
	URL      string
	Err      error
	CacheErr error
}

func (e *NetworkError) Error() string {
	if e.CacheErr != nil {
		return fmt.Sprintf("fetch %s: network: %v; cache: %v", e.URL, e.Err, e.CacheErr)
	}
	return fmt.Sprintf("fetch %s: network: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.CacheErr != nil {
		errs = append(errs, e.CacheErr)
	}
	return errs
}
