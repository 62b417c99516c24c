package offcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	c "github.com/unkn0wn-root/offcache/codec"
	pr "github.com/unkn0wn-root/offcache/provider"
	"github.com/unkn0wn-root/offcache/regstore"
)

// Strategy selects how HandleFetch chooses between the network and the store.
type Strategy uint8

const (
	// CacheFirst answers from the store and only goes to the network on a miss.
	CacheFirst Strategy = iota + 1
	// NetworkFirst prefers a live response and falls back to the store when the
	// network fails.
	NetworkFirst
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// ParseStrategy accepts "cache-first" and "network-first" (case-insensitive,
// underscores allowed).
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "cache-first":
		return CacheFirst, nil
	case "network-first":
		return NetworkFirst, nil
	default:
		return 0, fmt.Errorf("offcache: unknown strategy %q", s)
	}
}

func (s Strategy) MarshalText() ([]byte, error) {
	if s != CacheFirst && s != NetworkFirst {
		return nil, fmt.Errorf("offcache: invalid strategy %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Manifest describes one deployable version: the store name, the shell assets
// to precache and the strategy used once it is active.
type Manifest struct {
	CacheName string   `json:"cacheName" yaml:"cacheName"`
	Assets    []string `json:"assets" yaml:"assets"`
	Strategy  Strategy `json:"strategy" yaml:"strategy"`

	// WaitForClients keeps an installed version waiting until every attached
	// client detaches. Default false: skip waiting and activate right away.
	WaitForClients bool `json:"waitForClients,omitempty" yaml:"waitForClients,omitempty"`
}

func (m Manifest) Validate() error {
	if m.CacheName == "" {
		return fmt.Errorf("offcache: manifest cacheName is required")
	}
	if m.Strategy != CacheFirst && m.Strategy != NetworkFirst {
		return fmt.Errorf("offcache: manifest %q: invalid strategy %v", m.CacheName, m.Strategy)
	}
	for i, a := range m.Assets {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("offcache: manifest %q: empty asset at %d", m.CacheName, i)
		}
	}
	return nil
}

// Fetcher performs the real network round-trip. A non-nil error means the
// network failed; HTTP error statuses are successful fetches.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// CacheableFunc decides whether a runtime network response may be stored.
type CacheableFunc func(req *Request, resp *Response) bool

// Options configure a Registration. Only Scope, Provider and Fetcher are
// required; others have sensible defaults.
type Options struct {
	// Required
	Scope    string      // URL prefix under which requests are intercepted, e.g. "https://app.local/"
	Provider pr.Provider // byte store holding every version's store
	Fetcher  Fetcher     // network

	Namespace          string            // provider key isolation; "" => scope
	Codec              c.Codec[Response] // nil => CBOR
	Logger             Logger            // nil => NopLogger
	Hooks              Hooks             // nil => NopHooks
	Registry           regstore.Store    // nil => nothing persisted across restarts
	Schemes            []string          // interceptable schemes; nil => http, https
	VaryHeaders        []string          // request headers that are part of the identity
	Cacheable          CacheableFunc     // nil => 2xx responses
	InstallConcurrency int               // parallel manifest fetches; 0 => 4
	WriteWorkers       int               // background cache writers; 0 => 2
	WriteQueue         int               // pending background writes; 0 => 256
	Clock              func() time.Time
}

// New validates opts, restores the last activated version from Registry (if
// its store still exists) and starts the background writers.
func New(ctx context.Context, opts Options) (*Registration, error) {
	return newRegistration(ctx, opts)
}
