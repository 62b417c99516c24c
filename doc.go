// Package offcache is an offline asset cache for one URL scope, modeled on the
// service worker lifecycle. A Registration precaches a versioned shell
// (Install), makes it the only live store (Activate) and answers intercepted
// fetches with a cache-first or network-first strategy (HandleFetch).
//
// Components:
//   - Provider: byte store that holds every store (e.g. Ristretto, BigCache, Redis, disk).
//   - Codec[Response]: (de)serializes stored responses; CBOR by default.
//   - regstore.Store: remembers the active version so a restart serves offline.
//   - Hooks / Logger: observability; no-ops by default.
//
// Lifecycle of a version:
//
//	Installing -> Waiting -> Activating -> Activated -> Redundant
//
// Install is all or nothing: if any shell asset fails, no store is left for
// that version. Activate deletes every store except the new one and claims all
// attached clients.
//
// Usage:
//
//	reg, _ := offcache.New(ctx, offcache.Options{
//	    Scope:    "https://app.example/",
//	    Provider: p,
//	    Fetcher:  &offcache.HTTPFetcher{},
//	})
//	_, err := reg.Register(ctx, offcache.Manifest{
//	    CacheName: "v2",
//	    Assets:    []string{"/", "/app.js", "/style.css"},
//	    Strategy:  offcache.CacheFirst,
//	})
//	resp, err := reg.HandleFetch(ctx, req)
package offcache
