package offcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPFetcher is the network Fetcher backed by an http.Client.
//
// Do not give it a Client whose transport is a Transport of the same
// Registration: misses would loop back into the cache.
type HTTPFetcher struct {
	Client  *http.Client // nil => http.DefaultClient
	MaxBody int64        // 0 => unlimited; larger bodies fail the fetch
}

var _ Fetcher = (*HTTPFetcher)(nil)

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method(), req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		hr.Header = req.Header.Clone()
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rd io.Reader = resp.Body
	if f.MaxBody > 0 {
		rd = io.LimitReader(resp.Body, f.MaxBody+1)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if f.MaxBody > 0 && int64(len(b)) > f.MaxBody {
		return nil, fmt.Errorf("offcache: %s: body exceeds %d bytes", req.URL, f.MaxBody)
	}

	final := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b, URL: final}, nil
}

// Transport is an http.RoundTripper that routes in-scope GET requests through
// the Registration. Everything else, and everything before a version is
// active, goes to Base untouched.
type Transport struct {
	Registration *Registration
	Base         http.RoundTripper // nil => http.DefaultTransport
}

var _ http.RoundTripper = (*Transport)(nil)

// ClientIDHeader optionally names the browsing context issuing a request.
const ClientIDHeader = "X-Offcache-Client"

func (t *Transport) RoundTrip(hr *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	req := &Request{
		Method:   hr.Method,
		URL:      hr.URL,
		Header:   hr.Header,
		ClientID: hr.Header.Get(ClientIDHeader),
	}
	if req.method() != http.MethodGet || !t.Registration.Intercepts(req) || t.Registration.Active() == nil {
		return base.RoundTrip(hr)
	}
	resp, err := t.Registration.HandleFetch(hr.Context(), req)
	if err != nil {
		return nil, err
	}
	return resp.HTTP(hr), nil
}

// HTTP converts r into an *http.Response answering req. The body is a fresh
// reader over r.Body.
func (r *Response) HTTP(req *http.Request) *http.Response {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
