package offcache

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Intercepts reports whether req is offered to the cache: its scheme is
// interceptable and its URL falls under the scope. Method is not considered.
func (r *Registration) Intercepts(req *Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if _, ok := r.schemes[strings.ToLower(req.URL.Scheme)]; !ok {
		return false
	}
	return strings.HasPrefix(req.URL.String(), r.scopeStr)
}

// HandleFetch answers one intercepted request with the active worker's
// strategy. Requests outside the scope, non-GET requests and requests arriving
// before any version is active go straight to the network and are never read
// from or written to a store.
//
// Store writes are queued in the background and can not fail the call. Under
// network-first, a network failure with no stored copy returns a *NetworkError
// wrapping both the network error and ErrNoMatch.
func (r *Registration) HandleFetch(ctx context.Context, req *Request) (*Response, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	w := r.Active()
	if w == nil || req.method() != http.MethodGet || !r.Intercepts(req) {
		return r.fetcher.Fetch(ctx, req)
	}

	st := &Store{name: w.Version(), s: r.storage}
	id := req.identity(r.vary)
	switch w.Strategy() {
	case NetworkFirst:
		return r.networkFirst(ctx, st, req, id)
	default:
		return r.cacheFirst(ctx, st, req, id)
	}
}

// HandleFetchAsync is HandleFetch as a Task.
func (r *Registration) HandleFetchAsync(ctx context.Context, req *Request) *Task[*Response] {
	return Go(ctx, func(ctx context.Context) (*Response, error) {
		return r.HandleFetch(ctx, req)
	})
}

func (r *Registration) cacheFirst(ctx context.Context, st *Store, req *Request, id string) (*Response, error) {
	u := req.URL.String()
	cached, ok, err := st.match(ctx, id)
	switch {
	case err != nil:
		// a broken store must not take the page down; the network can still answer
		r.log.Warn("cache read failed; using network", Fields{"store": st.name, "url": u, "err": err})
	case ok:
		r.hooks.CacheHit(st.name, u, CacheFirst)
		return cached, nil
	}

	resp, ferr := r.fetcher.Fetch(ctx, req)
	if ferr != nil {
		cacheErr := err
		if cacheErr == nil {
			cacheErr = ErrNoMatch
		}
		return nil, &NetworkError{URL: u, Err: ferr, CacheErr: cacheErr}
	}
	r.store(st, req, id, resp)
	return resp, nil
}

func (r *Registration) networkFirst(ctx context.Context, st *Store, req *Request, id string) (*Response, error) {
	u := req.URL.String()
	resp, ferr := r.fetcher.Fetch(ctx, req)
	if ferr == nil {
		r.store(st, req, id, resp)
		return resp, nil
	}
	if ctx.Err() != nil {
		// caller is gone; nobody is waiting for a fallback
		return nil, &NetworkError{URL: u, Err: ferr}
	}

	cached, ok, err := st.match(ctx, id)
	switch {
	case err != nil:
		r.hooks.NetworkFallback(u, ferr, false)
		return nil, &NetworkError{URL: u, Err: ferr, CacheErr: err}
	case !ok:
		r.hooks.NetworkFallback(u, ferr, false)
		return nil, &NetworkError{URL: u, Err: ferr, CacheErr: ErrNoMatch}
	}
	r.hooks.NetworkFallback(u, ferr, true)
	r.hooks.CacheHit(st.name, u, NetworkFirst)
	r.log.Debug("network failed; served from cache", Fields{"store": st.name, "url": u, "err": ferr})
	return cached, nil
}

// store queues a best-effort write of a copy of resp. It never blocks and
// never reports to the caller.
func (r *Registration) store(st *Store, req *Request, id string, resp *Response) {
	if resp == nil || !r.cacheable(req, resp) {
		return
	}
	cp := resp.Clone()
	u := req.URL.String()
	queued := r.writer.submit(func() {
		// detached from the request: a client torn down mid-fetch must not
		// cancel a write that is already under way
		err := st.put(context.Background(), id, cp)
		if err == nil {
			return
		}
		werr := &CacheWriteError{Store: st.name, Key: id, Err: err}
		if errors.Is(err, ErrStoreNotFound) {
			// version was purged while the write was queued
			r.log.Debug("cache write skipped", Fields{"err": werr})
		} else {
			r.log.Warn("cache write failed", Fields{"err": werr})
		}
		r.hooks.CacheWriteFailed(st.name, u, werr)
	})
	if !queued {
		r.log.Debug("cache write dropped", Fields{"store": st.name, "url": u})
		r.hooks.CacheWriteFailed(st.name, u, nil)
	}
}
