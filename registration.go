package offcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	c "github.com/unkn0wn-root/offcache/codec"
	"github.com/unkn0wn-root/offcache/regstore"
)

const (
	defaultInstallConcurrency = 4
	defaultWriteWorkers       = 2
	defaultWriteQueue         = 256
)

// Registration owns the offline cache of one scope: the installing, waiting
// and active workers, the attached clients and the store of every version.
// All lifecycle state lives here; nothing is package-global.
type Registration struct {
	scope     *url.URL
	scopeStr  string
	storage   *CacheStorage
	fetcher   Fetcher
	log       Logger
	hooks     Hooks
	registry  regstore.Store
	schemes   map[string]struct{}
	vary      []string
	cacheable CacheableFunc
	parallel  int
	now       func() time.Time
	writer    *writer

	// serializes Install, Activate and Unregister
	lifecycle sync.Mutex

	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	clients    map[string]*Client
	closed     bool
	closeOnce  sync.Once
	closeErr   error
}

func newRegistration(ctx context.Context, opts Options) (*Registration, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("offcache: provider is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("offcache: fetcher is required")
	}
	if opts.Scope == "" {
		return nil, fmt.Errorf("offcache: scope is required")
	}
	scope, err := url.Parse(opts.Scope)
	if err != nil {
		return nil, fmt.Errorf("offcache: scope: %w", err)
	}
	if !scope.IsAbs() || scope.Host == "" {
		return nil, fmt.Errorf("offcache: scope %q must be an absolute URL", opts.Scope)
	}
	scope.Fragment = ""

	cd := opts.Codec
	if cd == nil {
		cb, err := c.NewCBOR[Response](false)
		if err != nil {
			return nil, err
		}
		cd = cb
	}

	r := &Registration{
		scope:     scope,
		scopeStr:  scope.String(),
		fetcher:   opts.Fetcher,
		registry:  opts.Registry,
		vary:      canonicalHeaders(opts.VaryHeaders),
		cacheable: opts.Cacheable,
		clients:   make(map[string]*Client),
	}

	// defaults
	r.log = withFields(coalesce[Logger](opts.Logger, NopLogger{}), Fields{"scope": r.scopeStr})
	r.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	r.parallel = positive(opts.InstallConcurrency, defaultInstallConcurrency)
	r.now = opts.Clock
	if r.now == nil {
		r.now = time.Now
	}
	if r.cacheable == nil {
		r.cacheable = defaultCacheable
	}
	schemes := opts.Schemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	r.schemes = make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		r.schemes[strings.ToLower(s)] = struct{}{}
	}

	ns := coalesce(opts.Namespace, r.scopeStr)
	r.storage = newCacheStorage(ns, opts.Provider, cd, r.log, r.now)
	r.writer = newWriter(
		positive(opts.WriteWorkers, defaultWriteWorkers),
		positive(opts.WriteQueue, defaultWriteQueue),
	)

	r.restore(ctx)
	return r, nil
}

// restore re-activates the version recorded in the registry, provided its store
// survived. A desktop shell restarted without network keeps serving its shell.
func (r *Registration) restore(ctx context.Context) {
	if r.registry == nil {
		return
	}
	rec, ok, err := r.registry.Load(ctx, r.scopeStr)
	if err != nil {
		r.log.Warn("registration record unreadable", Fields{"err": err})
		return
	}
	if !ok {
		return
	}
	strategy, err := ParseStrategy(rec.Strategy)
	if err != nil {
		r.log.Warn("registration record has bad strategy", Fields{"strategy": rec.Strategy})
		return
	}
	has, err := r.storage.Has(ctx, rec.Version)
	if err != nil {
		r.log.Warn("store lookup failed during restore", Fields{"version": rec.Version, "err": err})
		return
	}
	if !has {
		r.log.Warn("recorded version has no store; starting empty", Fields{"version": rec.Version})
		_ = r.registry.Delete(ctx, r.scopeStr)
		return
	}
	m := Manifest{CacheName: rec.Version, Assets: rec.Assets, Strategy: strategy}
	r.active = newWorker(m, r.hooks, StateActivated)
	r.log.Info("restored active version", Fields{"version": rec.Version, "activatedAt": rec.ActivatedAt})
}

// Scope is the URL prefix this registration intercepts, always ending in "/".
func (r *Registration) Scope() string { return r.scopeStr }

// Storage exposes the named stores, for inspection and manual cleanup.
func (r *Registration) Storage() *CacheStorage { return r.storage }

// VaryHeaders returns a copy of the canonical header names that take part in
// request identity.
func (r *Registration) VaryHeaders() []string { return append([]string(nil), r.vary...) }

// Active is the worker answering fetches, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting is the installed worker not yet activated, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Installing is the worker currently precaching, or nil.
func (r *Registration) Installing() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.installing
}

func (r *Registration) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registration) activeVersion() string {
	if w := r.Active(); w != nil {
		return w.Version()
	}
	return ""
}

// Install precaches m's assets into the store named m.CacheName. It is all or
// nothing: every asset is fetched before anything is written, and a failed
// write discards the store. On success the worker is Waiting (and has signalled
// skip-waiting unless m.WaitForClients); a previously waiting worker becomes
// redundant. On failure the returned worker is Redundant with Err set.
func (r *Registration) Install(ctx context.Context, m Manifest) (*Worker, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if r.isClosed() {
		return nil, ErrClosed
	}
	reqs, err := r.resolveAssets(m.Assets)
	if err != nil {
		return nil, err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	w := newWorker(m, r.hooks, StateInstalling)
	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	size, err := r.precache(ctx, w.Version(), reqs)

	r.mu.Lock()
	r.installing = nil
	r.mu.Unlock()

	if err != nil {
		w.fail(err)
		r.dropOrphanedWaiting(ctx, w.Version())
		r.hooks.InstallFailed(w.Version(), err)
		r.log.Error("install failed", Fields{"version": w.Version(), "err": err})
		return w, err
	}

	if !m.WaitForClients {
		w.setSkipWaiting()
	}
	if err := w.transition(StateWaiting); err != nil {
		return w, err
	}

	r.mu.Lock()
	prev := r.waiting
	r.waiting = w
	r.mu.Unlock()
	if prev != nil {
		prev.retire()
	}

	r.log.Info("installed", Fields{
		"version":     w.Version(),
		"assets":      len(reqs),
		"size":        humanize.Bytes(uint64(size)),
		"skipWaiting": w.SkipWaiting(),
	})
	return w, nil
}

// dropOrphanedWaiting retires a waiting worker of version whose store a failed
// reinstall has discarded. Activating it would purge the working shell and
// leave nothing behind.
func (r *Registration) dropOrphanedWaiting(ctx context.Context, version string) {
	r.mu.RLock()
	wt := r.waiting
	r.mu.RUnlock()
	if wt == nil || wt.Version() != version {
		return
	}
	if has, err := r.storage.Has(context.WithoutCancel(ctx), version); err == nil && has {
		return
	}
	r.mu.Lock()
	if r.waiting == wt {
		r.waiting = nil
	}
	r.mu.Unlock()
	wt.retire()
	r.log.Warn("waiting worker lost its store", Fields{"version": version})
}

// precache fetches every request concurrently, then writes them in manifest
// order. Returns the total body size stored.
func (r *Registration) precache(ctx context.Context, version string, reqs []*Request) (int, error) {
	resps := make([]*Response, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := r.fetcher.Fetch(gctx, req)
			if err != nil {
				return &ManifestFetchError{Version: version, URL: req.URL.String(), Err: err}
			}
			if !resp.OK() {
				return &ManifestFetchError{Version: version, URL: req.URL.String(), Status: resp.Status}
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// cleanup must run even if the caller gave up
	cleanupCtx := context.WithoutCancel(ctx)

	// a leftover store of the same name (not the current one) would leak
	// foreign entries into the shell
	fresh := r.activeVersion() != version
	if fresh {
		if _, err := r.storage.Delete(cleanupCtx, version); err != nil {
			return 0, &ManifestFetchError{Version: version, Err: err}
		}
	}
	st, err := r.storage.Open(ctx, version)
	if err != nil {
		return 0, &ManifestFetchError{Version: version, Err: err}
	}

	size := 0
	for i, req := range reqs {
		if err := st.Put(ctx, req, r.vary, resps[i]); err != nil {
			if fresh {
				if _, derr := r.storage.Delete(cleanupCtx, version); derr != nil {
					r.log.Warn("partial shell not discarded", Fields{"version": version, "err": derr})
				}
			}
			return 0, &ManifestFetchError{Version: version, URL: req.URL.String(), Err: err}
		}
		size += len(resps[i].Body)
	}
	return size, nil
}

// resolveAssets turns manifest entries into GET requests relative to the
// scope, dropping duplicates.
func (r *Registration) resolveAssets(assets []string) ([]*Request, error) {
	out := make([]*Request, 0, len(assets))
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		u, err := url.Parse(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("offcache: asset %q: %w", a, err)
		}
		req := &Request{Method: http.MethodGet, URL: r.scope.ResolveReference(u), Header: make(http.Header)}
		id := req.identity(r.vary)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, req)
	}
	return out, nil
}

// SkipWaiting asks the waiting worker to activate without waiting for clients.
// It takes effect on the next Register or Detach.
func (r *Registration) SkipWaiting() error {
	w := r.Waiting()
	if w == nil {
		return ErrNoWaitingWorker
	}
	w.setSkipWaiting()
	return nil
}

// Activate promotes the waiting worker with this version: every other store is
// deleted, all clients are claimed and the previous active worker becomes
// redundant. Activating the version that is already active only re-runs the
// purge, so repeated calls are no-ops. A waiting worker whose store has gone is
// retired instead and ErrStoreNotFound returned; nothing is purged.
func (r *Registration) Activate(ctx context.Context, version string) error {
	if r.isClosed() {
		return ErrClosed
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.activate(ctx, version)
}

func (r *Registration) activate(ctx context.Context, version string) error {
	r.mu.RLock()
	w, prev := r.waiting, r.active
	r.mu.RUnlock()

	if w == nil || w.Version() != version {
		if prev != nil && prev.Version() == version {
			r.purge(ctx, version)
			return nil
		}
		return fmt.Errorf("%w: %q", ErrNoWaitingWorker, version)
	}

	// never purge the other stores in favour of one that is gone
	has, err := r.storage.Has(ctx, version)
	if err != nil {
		return fmt.Errorf("offcache: activate %q: %w", version, err)
	}
	if !has {
		r.mu.Lock()
		if r.waiting == w {
			r.waiting = nil
		}
		r.mu.Unlock()
		w.fail(ErrStoreNotFound)
		return fmt.Errorf("offcache: activate %q: %w", version, ErrStoreNotFound)
	}

	if err := w.transition(StateActivating); err != nil {
		return err
	}
	r.purge(ctx, version)

	r.mu.Lock()
	r.active = w
	r.waiting = nil
	for _, cl := range r.clients {
		cl.setController(version)
	}
	claimed := len(r.clients)
	r.mu.Unlock()

	if prev != nil {
		prev.retire()
	}
	if err := w.transition(StateActivated); err != nil {
		return err
	}
	r.persist(ctx, w)

	r.log.Info("activated", Fields{"version": version, "claimed": claimed})
	return nil
}

// purge deletes every store except keep. Failures are logged; a later
// Activate of the same version retries them.
func (r *Registration) purge(ctx context.Context, keep string) {
	names, err := r.storage.Keys(ctx)
	if err != nil {
		r.log.Warn("store listing failed; stale stores kept", Fields{"keep": keep, "err": err})
		return
	}
	for _, name := range names {
		if name == keep {
			continue
		}
		ok, err := r.storage.Delete(ctx, name)
		if err != nil {
			r.log.Warn("stale store delete failed", Fields{"store": name, "err": err})
			continue
		}
		if ok {
			r.hooks.StorePurged(name)
			r.log.Debug("stale store purged", Fields{"store": name})
		}
	}
}

func (r *Registration) persist(ctx context.Context, w *Worker) {
	if r.registry == nil {
		return
	}
	rec := regstore.Record{
		Version:     w.Version(),
		Strategy:    w.Strategy().String(),
		Assets:      w.Manifest().Assets,
		ActivatedAt: r.now(),
	}
	if err := r.registry.Save(ctx, r.scopeStr, rec); err != nil {
		r.log.Warn("registration record not saved", Fields{"version": rec.Version, "err": err})
	}
}

// Register installs m and activates it right away when the worker skips
// waiting or no client is attached. Otherwise the worker waits until the last
// client detaches.
func (r *Registration) Register(ctx context.Context, m Manifest) (*Worker, error) {
	w, err := r.Install(ctx, m)
	if err != nil {
		return w, err
	}
	r.mu.RLock()
	attached := len(r.clients)
	r.mu.RUnlock()

	if w.SkipWaiting() || attached == 0 {
		return w, r.Activate(ctx, w.Version())
	}
	r.log.Info("waiting for clients to detach", Fields{"version": w.Version(), "clients": attached})
	return w, nil
}

// Unregister deletes every store of the registration, retires all workers and
// forgets the persisted record. Clients become uncontrolled.
func (r *Registration) Unregister(ctx context.Context) error {
	if r.isClosed() {
		return ErrClosed
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	var errs []error
	names, err := r.storage.Keys(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, name := range names {
		if _, err := r.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete store %q: %w", name, err))
			continue
		}
		r.hooks.StorePurged(name)
	}

	r.mu.Lock()
	active, waiting := r.active, r.waiting
	r.active, r.waiting = nil, nil
	for _, cl := range r.clients {
		cl.setController("")
	}
	r.mu.Unlock()

	for _, w := range []*Worker{waiting, active} {
		if w != nil {
			w.retire()
		}
	}
	if r.registry != nil {
		if err := r.registry.Delete(ctx, r.scopeStr); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Info("unregistered", Fields{"stores": len(names)})
	return errors.Join(errs...)
}

// Client is a browsing context attached to the scope.
type Client struct {
	id string

	mu         sync.RWMutex
	controller string
}

func (cl *Client) ID() string { return cl.id }

// Controller is the version serving this client, or "" when uncontrolled.
func (cl *Client) Controller() string {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.controller
}

func (cl *Client) setController(v string) {
	cl.mu.Lock()
	cl.controller = v
	cl.mu.Unlock()
}

// Attach registers a browsing context. A new client is controlled by the
// active version; attaching an existing id returns the same client.
func (r *Registration) Attach(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cl, ok := r.clients[id]; ok {
		return cl
	}
	cl := &Client{id: id}
	if r.active != nil {
		cl.controller = r.active.Version()
	}
	r.clients[id] = cl
	return cl
}

// Detach removes a browsing context. When the last one goes away a waiting
// worker is activated.
func (r *Registration) Detach(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.clients, id)
	remaining := len(r.clients)
	waiting := r.waiting
	r.mu.Unlock()

	if remaining == 0 && waiting != nil && waiting.State() == StateWaiting {
		return r.Activate(ctx, waiting.Version())
	}
	return nil
}

// Clients returns attached clients ordered by id.
func (r *Registration) Clients() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, cl := range r.clients {
		out = append(out, cl)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Flush waits for queued cache writes to finish.
func (r *Registration) Flush(ctx context.Context) error {
	return r.writer.flush(ctx)
}

// Close stops the background writers (abandoning queued writes if ctx ends
// first), then closes the registry and the provider. Safe to call twice.
func (r *Registration) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		var errs []error
		if err := r.writer.close(ctx); err != nil {
			r.log.Warn("pending cache writes abandoned", Fields{"err": err})
		}
		if r.registry != nil {
			errs = append(errs, r.registry.Close(ctx))
		}
		errs = append(errs, r.storage.provider.Close(ctx))
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
