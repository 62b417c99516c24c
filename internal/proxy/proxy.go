// Package proxy serves an upstream origin through an offcache Registration.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/offcache"
)

// AdminPrefix is reserved for the status endpoint and never proxied.
const AdminPrefix = "/_offcache/"

const (
	headerCache    = "X-Offcache"
	headerStoredAt = "X-Offcache-Stored-At"
)

// hop-by-hop headers are connection-scoped and never forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Handler struct {
	reg     *offcache.Registration
	scope   *url.URL
	log     *zap.Logger
	maxBody int64
}

func New(reg *offcache.Registration, log *zap.Logger, maxBody int64) (*Handler, error) {
	scope, err := url.Parse(reg.Scope())
	if err != nil {
		return nil, fmt.Errorf("proxy: scope: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{reg: reg, scope: scope, log: log, maxBody: maxBody}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, AdminPrefix) {
		h.serveAdmin(w, r)
		return
	}

	req, err := h.upstreamRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.reg.HandleFetch(r.Context(), req)
	if err != nil {
		h.fail(w, req, err)
		return
	}

	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = append([]string(nil), vs...)
	}
	removeHop(dst)
	dst.Del("Content-Length")
	dst.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	if !resp.StoredAt.IsZero() {
		dst.Set(headerCache, "hit")
		dst.Set(headerStoredAt, resp.StoredAt.UTC().Format(time.RFC3339))
	} else {
		dst.Set(headerCache, "miss")
	}
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

// upstreamRequest rebases r onto the scope: "/a/b?q" becomes scope + "a/b?q".
func (h *Handler) upstreamRequest(r *http.Request) (*offcache.Request, error) {
	ref := &url.URL{Path: strings.TrimPrefix(r.URL.Path, "/"), RawQuery: r.URL.RawQuery}
	target := h.scope.ResolveReference(ref)

	hdr := r.Header.Clone()
	removeHop(hdr)
	// let the fetcher negotiate compression; stored bodies are always decoded
	hdr.Del("Accept-Encoding")
	req := &offcache.Request{
		Method:   r.Method,
		URL:      target,
		Header:   hdr,
		ClientID: r.Header.Get(offcache.ClientIDHeader),
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		var rd io.Reader = r.Body
		if h.maxBody > 0 {
			rd = io.LimitReader(r.Body, h.maxBody+1)
		}
		b, err := io.ReadAll(rd)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if h.maxBody > 0 && int64(len(b)) > h.maxBody {
			return nil, fmt.Errorf("request body exceeds %d bytes", h.maxBody)
		}
		req.Body = b
	}
	return req, nil
}

func (h *Handler) fail(w http.ResponseWriter, req *offcache.Request, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, offcache.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	h.log.Warn("upstream unavailable",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Bool("cache_miss", errors.Is(err, offcache.ErrNoMatch)),
		zap.Error(err))
	http.Error(w, http.StatusText(status), status)
}

type Status struct {
	Scope   string   `json:"scope"`
	Active  string   `json:"active,omitempty"`
	State   string   `json:"state,omitempty"`
	Waiting string   `json:"waiting,omitempty"`
	Stores  []string `json:"stores"`
	Clients int      `json:"clients"`
}

func (h *Handler) serveAdmin(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != AdminPrefix+"status" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	st := Status{Scope: h.reg.Scope(), Clients: len(h.reg.Clients())}
	if a := h.reg.Active(); a != nil {
		st.Active = a.Version()
		st.State = a.State().String()
	}
	if wt := h.reg.Waiting(); wt != nil {
		st.Waiting = wt.Version()
	}
	names, err := h.reg.Storage().Keys(r.Context())
	if err != nil {
		h.log.Warn("store listing failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	st.Stores = append([]string{}, names...)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func removeHop(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
