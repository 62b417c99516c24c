// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    CacheHitEvery: 100, // sample hit logs: ~every 100th hit
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	reg, _ := offcache.New(ctx, offcache.Options{
//	    Scope:    "https://app.example/",
//	    Provider: provider,
//	    Fetcher:  &offcache.HTTPFetcher{},
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/offcache"
)

// Hooks forwards events to inner on background workers. Events are dropped,
// never blocked on, when the queue is full or after Close.
type Hooks struct {
	inner   offcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ offcache.Hooks = (*Hooks)(nil)

func New(inner offcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) StateChanged(v string, from, to offcache.State) {
	h.try(func() { h.inner.StateChanged(v, from, to) })
}
func (h *Hooks) InstallFailed(v string, err error) { h.try(func() { h.inner.InstallFailed(v, err) }) }
func (h *Hooks) CacheHit(store, url string, s offcache.Strategy) {
	h.try(func() { h.inner.CacheHit(store, url, s) })
}
func (h *Hooks) NetworkFallback(url string, err error, served bool) {
	h.try(func() { h.inner.NetworkFallback(url, err, served) })
}
func (h *Hooks) CacheWriteFailed(store, url string, err error) {
	h.try(func() { h.inner.CacheWriteFailed(store, url, err) })
}
func (h *Hooks) StorePurged(name string) { h.try(func() { h.inner.StorePurged(name) }) }
