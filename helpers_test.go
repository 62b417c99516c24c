package offcache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	pr "github.com/unkn0wn-root/offcache/provider"
)

const testScope = "https://app.example/"

var errOffline = errors.New("network unreachable")

type memProvider struct {
	mu            sync.Mutex
	m             map[string][]byte
	rejectEntries bool // refuse writes of response entries
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectEntries && strings.HasPrefix(key, "entry:") {
		return false, nil
	}
	p.m[key] = append([]byte(nil), value...)
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) setRejectEntries(v bool) {
	p.mu.Lock()
	p.rejectEntries = v
	p.mu.Unlock()
}

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// fakeNet serves bodies by path and counts calls per "METHOD path".
type fakeNet struct {
	mu      sync.Mutex
	bodies  map[string]string
	calls   map[string]int
	offline bool
}

func newFakeNet(bodies map[string]string) *fakeNet {
	return &fakeNet{bodies: bodies, calls: make(map[string]int)}
}

func (n *fakeNet) Fetch(ctx context.Context, req *Request) (*Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.method()+" "+req.URL.Path]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.offline {
		return nil, errOffline
	}
	body, ok := n.bodies[req.URL.Path]
	if !ok {
		return &Response{Status: http.StatusNotFound, URL: req.URL.String()}, nil
	}
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte(body),
		URL:    req.URL.String(),
	}, nil
}

func (n *fakeNet) setOffline(v bool) {
	n.mu.Lock()
	n.offline = v
	n.mu.Unlock()
}

func (n *fakeNet) set(path, body string) {
	n.mu.Lock()
	n.bodies[path] = body
	n.mu.Unlock()
}

func (n *fakeNet) count(method, path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method+" "+path]
}

type hookLog struct {
	transitions []string
	failed      []string
	hits        int
	fallbacks   []bool
	writeErrs   []error
	purged      []string
}

type recHooks struct {
	mu sync.Mutex
	ev hookLog
}

var _ Hooks = (*recHooks)(nil)

func (h *recHooks) StateChanged(v string, from, to State) {
	h.mu.Lock()
	h.ev.transitions = append(h.ev.transitions, v+":"+from.String()+"->"+to.String())
	h.mu.Unlock()
}

func (h *recHooks) InstallFailed(v string, _ error) {
	h.mu.Lock()
	h.ev.failed = append(h.ev.failed, v)
	h.mu.Unlock()
}

func (h *recHooks) CacheHit(string, string, Strategy) {
	h.mu.Lock()
	h.ev.hits++
	h.mu.Unlock()
}

func (h *recHooks) NetworkFallback(_ string, _ error, served bool) {
	h.mu.Lock()
	h.ev.fallbacks = append(h.ev.fallbacks, served)
	h.mu.Unlock()
}

func (h *recHooks) CacheWriteFailed(_, _ string, err error) {
	h.mu.Lock()
	h.ev.writeErrs = append(h.ev.writeErrs, err)
	h.mu.Unlock()
}

func (h *recHooks) StorePurged(name string) {
	h.mu.Lock()
	h.ev.purged = append(h.ev.purged, name)
	h.mu.Unlock()
}

func (h *recHooks) snapshot() hookLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hookLog{
		transitions: append([]string(nil), h.ev.transitions...),
		failed:      append([]string(nil), h.ev.failed...),
		hits:        h.ev.hits,
		fallbacks:   append([]bool(nil), h.ev.fallbacks...),
		writeErrs:   append([]error(nil), h.ev.writeErrs...),
		purged:      append([]string(nil), h.ev.purged...),
	}
}

var shellAssets = map[string]string{
	"/":          "<html>shell</html>",
	"/app.js":    "console.log('app')",
	"/style.css": "body{margin:0}",
}

func shellNet() *fakeNet {
	bodies := make(map[string]string, len(shellAssets))
	for k, v := range shellAssets {
		bodies[k] = v
	}
	return newFakeNet(bodies)
}

func newTestReg(t *testing.T, net Fetcher, mp pr.Provider, mutate func(*Options)) *Registration {
	t.Helper()
	opts := Options{
		Scope:    testScope,
		Provider: mp,
		Fetcher:  net,
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func manifest(version string, s Strategy, assets ...string) Manifest {
	if len(assets) == 0 {
		assets = []string{"/", "/app.js", "/style.css"}
	}
	return Manifest{CacheName: version, Assets: assets, Strategy: s}
}

func get(t *testing.T, path string) *Request {
	t.Helper()
	req, err := NewRequest(http.MethodGet, testScope+strings.TrimPrefix(path, "/"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func storeNames(t *testing.T, r *Registration) []string {
	t.Helper()
	names, err := r.Storage().Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	return names
}

func flush(t *testing.T, r *Registration) {
	t.Helper()
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
