package offcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: CacheHit and NetworkFallback
// run on the fetch path. Wrap slow sinks with hooks/async.
type Hooks interface {
	// A worker moved between lifecycle states.
	StateChanged(version string, from, to State)

	// Install aborted; the version never becomes current.
	InstallFailed(version string, err error)

	// A request was answered from the store.
	// strategy tells whether it was a cache-first hit or a network-first fallback.
	CacheHit(store, url string, strategy Strategy)

	// Network-first: the network failed and the store was consulted.
	// served=false means the failure was propagated to the caller.
	NetworkFallback(url string, err error, served bool)

	// A best-effort write failed (CacheWriteError) or was dropped because the
	// writer queue was full (err == nil).
	CacheWriteFailed(store, url string, err error)

	// A stale store was deleted during activation or unregister.
	StorePurged(name string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) StateChanged(string, State, State)      {}
func (NopHooks) InstallFailed(string, error)            {}
func (NopHooks) CacheHit(string, string, Strategy)      {}
func (NopHooks) NetworkFallback(string, error, bool)    {}
func (NopHooks) CacheWriteFailed(string, string, error) {}
func (NopHooks) StorePurged(string)                     {}
