package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/provider/ristretto"
)

type fixture struct {
	origin *httptest.Server
	proxy  *httptest.Server
	reg    *offcache.Registration
}

func newFixture(t *testing.T, strategy offcache.Strategy) *fixture {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /app/{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>shell</html>")
	})
	mux.HandleFunc("GET /app/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.Header().Set("Connection", "close")
		_, _ = io.WriteString(w, "app("+r.URL.RawQuery+")")
	})
	mux.HandleFunc("POST /app/api", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(b)
	})
	origin := httptest.NewServer(mux)

	p, err := ristretto.New(ristretto.Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64})
	require.NoError(t, err)
	reg, err := offcache.New(context.Background(), offcache.Options{
		Scope:    origin.URL + "/app/",
		Provider: p,
		Fetcher:  &offcache.HTTPFetcher{Client: origin.Client()},
	})
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), offcache.Manifest{
		CacheName: "v1",
		Assets:    []string{"./", "app.js"},
		Strategy:  strategy,
	})
	require.NoError(t, err)

	h, err := New(reg, nil, 1024)
	require.NoError(t, err)
	proxy := httptest.NewServer(h)

	t.Cleanup(func() {
		proxy.Close()
		origin.Close()
		_ = reg.Close(context.Background())
	})
	return &fixture{origin: origin, proxy: proxy, reg: reg}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestShellServedAfterOriginDies(t *testing.T) {
	f := newFixture(t, offcache.CacheFirst)
	f.origin.Close()

	resp, body := get(t, f.proxy.URL+"/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "app()", body)
	assert.Equal(t, "hit", resp.Header.Get(headerCache))
	assert.NotEmpty(t, resp.Header.Get(headerStoredAt))
	assert.Equal(t, "text/javascript", resp.Header.Get("Content-Type"))

	resp, _ = get(t, f.proxy.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUncachedRequestWithOriginDownIsBadGateway(t *testing.T) {
	f := newFixture(t, offcache.NetworkFirst)
	f.origin.Close()

	resp, _ := get(t, f.proxy.URL+"/app.js?v=2")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestNetworkFirstServesLiveThenFallsBack(t *testing.T) {
	f := newFixture(t, offcache.NetworkFirst)

	resp, body := get(t, f.proxy.URL+"/app.js")
	assert.Equal(t, "miss", resp.Header.Get(headerCache))
	assert.Equal(t, "app()", body)
	assert.Empty(t, resp.Header.Get("Connection"), "hop-by-hop header forwarded")
	require.NoError(t, f.reg.Flush(context.Background()))

	f.origin.Close()
	resp, body = get(t, f.proxy.URL+"/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hit", resp.Header.Get(headerCache))
	assert.Equal(t, "app()", body)
}

func TestPostIsForwardedNotCached(t *testing.T) {
	f := newFixture(t, offcache.CacheFirst)

	resp, err := http.Post(f.proxy.URL+"/api", "application/json", strings.NewReader(`{"n":1}`))
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"n":1}`, string(b))

	resp, err = http.Post(f.proxy.URL+"/api", "text/plain", strings.NewReader(strings.Repeat("x", 2048)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body over the limit")
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, offcache.CacheFirst)

	resp, body := get(t, f.proxy.URL+AdminPrefix+"status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "v1", st.Active)
	assert.Equal(t, "activated", st.State)
	assert.Equal(t, []string{"v1"}, st.Stores)

	resp, _ = get(t, f.proxy.URL+AdminPrefix+"nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
