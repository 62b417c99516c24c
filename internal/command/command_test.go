package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/offcache/internal/config"
)

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>shell</html>")
	})
	mux.HandleFunc("GET /app.js", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "console.log(1)")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, upstream, cacheDir string) string {
	t.Helper()
	y := fmt.Sprintf(`upstream: %s
provider:
  kind: disk
  dir: %s
manifest:
  cacheName: v1
  strategy: cache-first
  assets: ["/", "/app.js"]
log:
  level: error
`, upstream, cacheDir)
	path := filepath.Join(t.TempDir(), "offcached.yaml")
	require.NoError(t, os.WriteFile(path, []byte(y), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := InitApp(context.Background())
	app.Writer = &buf
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), append([]string{"offcached"}, args...))
	return buf.String(), err
}

func TestInitAppCommands(t *testing.T) {
	app := InitApp(context.Background())
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "precache", "stores", "unregister"}, names)
}

func TestPrecacheThenStoresThenUnregister(t *testing.T) {
	origin := newOrigin(t)
	cacheDir := t.TempDir()
	cfgPath := writeConfig(t, origin.URL, cacheDir)

	out, err := run(t, "--config", cfgPath, "precache")
	require.NoError(t, err)
	assert.Contains(t, out, "v1 activated: 2 assets")

	// a fresh process sees the stores left on disk
	out, err = run(t, "--config", cfgPath, "stores")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "STORE"))
	assert.True(t, strings.HasPrefix(lines[1], "v1"))

	out, err = run(t, "--config", cfgPath, "unregister")
	require.NoError(t, err)
	assert.Contains(t, out, "unregistered "+origin.URL+"/")

	out, err = run(t, "--config", cfgPath, "stores")
	require.NoError(t, err)
	assert.Equal(t, 1, len(strings.Split(strings.TrimSpace(out), "\n")))
}

func TestPrecacheFailsWithoutUpstream(t *testing.T) {
	origin := newOrigin(t)
	cfgPath := writeConfig(t, origin.URL, t.TempDir())
	origin.Close()

	_, err := run(t, "--config", cfgPath, "precache")
	assert.Error(t, err)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: {kind: memcached}\n"), 0o600))
	_, err := run(t, "--config", path, "stores")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLogLevelFlagValidated(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "stores")
	assert.Error(t, err)
}

func TestServeProxiesAndStopsOnCancel(t *testing.T) {
	origin := newOrigin(t)
	cfg := config.Default()
	cfg.Upstream = origin.URL
	cfg.Provider.Dir = t.TempDir()
	cfg.Log.Level = "error"
	cfg.Manifest = config.ManifestConfig{CacheName: "v1", Strategy: "cache-first", Assets: []string{"/", "/app.js"}}
	require.NoError(t, cfg.Validate())

	rt, err := newRuntime(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.close(context.Background()) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, rt, ln) }()

	url := "http://" + ln.Addr().String() + "/app.js"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	origin.Close()
	resp, err := http.Get(url)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "console.log(1)", string(b))
	assert.Equal(t, "hit", resp.Header.Get("X-Offcache"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRestartServesOfflineFromDisk(t *testing.T) {
	origin := newOrigin(t)
	cfgPath := writeConfig(t, origin.URL, t.TempDir())

	out, err := run(t, "--config", cfgPath, "precache")
	require.NoError(t, err)
	assert.Contains(t, out, "v1 activated")
	origin.Close()

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "disk", cfg.RegistryKind())
	rt, err := newRuntime(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.close(context.Background()) })

	active := rt.reg.Active()
	require.NotNil(t, active, "restarted process did not restore the active version")
	assert.Equal(t, "v1", active.Version())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, rt, ln) }()

	url := "http://" + ln.Addr().String() + "/app.js"
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "console.log(1)", body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}
