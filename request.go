package offcache

import (
	"bytes"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Request is one intercepted network call. It is handed to HandleFetch once
// and answered once.
type Request struct {
	Method   string
	URL      *url.URL
	Header   http.Header
	Body     []byte // only forwarded for non-GET requests
	ClientID string // browsing context that issued the call; informational
}

// NewRequest parses rawURL and returns a Request with an empty header.
// An empty method means GET.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: strings.ToUpper(method), URL: u, Header: make(http.Header)}, nil
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// identity is the store key of a request: method, URL without fragment and the
// values of the configured vary headers in a fixed order.
func (r *Request) identity(vary []string) string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""

	var b strings.Builder
	b.WriteString(r.method())
	b.WriteByte(' ')
	b.WriteString(u.String())
	for _, h := range vary {
		v := r.Header.Values(h)
		if len(v) == 0 {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(http.CanonicalHeaderKey(h))
		b.WriteString(": ")
		b.WriteString(strings.Join(v, ", "))
	}
	return b.String()
}

// Response is a stored or live answer to a Request.
type Response struct {
	Status   int         `json:"status" msgpack:"status"`
	Header   http.Header `json:"header,omitempty" msgpack:"header,omitempty"`
	Body     []byte      `json:"body,omitempty" msgpack:"body,omitempty"`
	URL      string      `json:"url,omitempty" msgpack:"url,omitempty"`
	StoredAt time.Time   `json:"-" msgpack:"-"` // set from the entry frame on Match
}

// Clone returns a deep copy. The copy shares nothing with r, so a queued cache
// write is not affected by callers that mutate the response they were handed.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = bytes.Clone(r.Body)
	}
	return &out
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status <= 299 }

func defaultCacheable(_ *Request, resp *Response) bool { return resp.OK() }

func canonicalHeaders(hs []string) []string {
	if len(hs) == 0 {
		return nil
	}
	out := make([]string, 0, len(hs))
	seen := make(map[string]struct{}, len(hs))
	for _, h := range hs {
		k := http.CanonicalHeaderKey(strings.TrimSpace(h))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
