// Package config loads offcached settings: defaults, then an optional YAML
// file, then OFFCACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/codec"
)

const EnvPrefix = "OFFCACHE_"

type Config struct {
	Listen       string        `yaml:"listen" env:"LISTEN"`
	Upstream     string        `yaml:"upstream" env:"UPSTREAM"`
	Namespace    string        `yaml:"namespace" env:"NAMESPACE"`
	VaryHeaders  []string      `yaml:"varyHeaders" env:"VARY_HEADERS" envSeparator:","`
	FetchTimeout time.Duration `yaml:"fetchTimeout" env:"FETCH_TIMEOUT"`
	MaxBody      int64         `yaml:"maxBody" env:"MAX_BODY"`

	InstallConcurrency int `yaml:"installConcurrency" env:"INSTALL_CONCURRENCY"`
	WriteWorkers       int `yaml:"writeWorkers" env:"WRITE_WORKERS"`
	WriteQueue         int `yaml:"writeQueue" env:"WRITE_QUEUE"`

	Provider ProviderConfig `yaml:"provider" envPrefix:"PROVIDER_"`
	Codec    string         `yaml:"codec" env:"CODEC"`       // cbor | json | msgpack
	Registry string         `yaml:"registry" env:"REGISTRY"` // disk | local | redis; see RegistryKind
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Manifest ManifestConfig `yaml:"manifest" envPrefix:"MANIFEST_"`

	// ManifestFile, when set, replaces Manifest with the contents of a
	// standalone manifest YAML.
	ManifestFile string `yaml:"manifestFile" env:"MANIFEST_FILE"`

	Log LogConfig `yaml:"log" envPrefix:"LOG_"`
}

type ProviderConfig struct {
	Kind string `yaml:"kind" env:"KIND"` // ristretto | bigcache | redis | disk
	Dir  string `yaml:"dir" env:"DIR"`

	// ristretto
	MaxCost     int64 `yaml:"maxCost" env:"MAX_COST"`
	NumCounters int64 `yaml:"numCounters" env:"NUM_COUNTERS"`

	// bigcache (MaxEntrySize also caps redis values)
	Shards       int `yaml:"shards" env:"SHARDS"`
	HardMaxMB    int `yaml:"hardMaxMB" env:"HARD_MAX_MB"`
	MaxEntrySize int `yaml:"maxEntrySize" env:"MAX_ENTRY_SIZE"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type ManifestConfig struct {
	CacheName      string   `yaml:"cacheName" env:"CACHE_NAME"`
	Assets         []string `yaml:"assets" env:"ASSETS" envSeparator:","`
	Strategy       string   `yaml:"strategy" env:"STRATEGY"`
	WaitForClients bool     `yaml:"waitForClients" env:"WAIT_FOR_CLIENTS"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"FORMAT"` // json | console
}

func Default() Config {
	return Config{
		Listen:       "127.0.0.1:8787",
		FetchTimeout: 30 * time.Second,
		Provider: ProviderConfig{
			Kind:        "disk",
			MaxCost:     256 << 20,
			NumCounters: 1e6,
			Shards:      256,
			HardMaxMB:   256,
		},
		Codec:    "cbor",
		Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
		Manifest: ManifestConfig{Strategy: offcache.CacheFirst.String()},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load applies, in order: defaults, the YAML file at path (skipped when path
// is empty), the manifest file it names, and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ManifestFile != "" {
		m, err := LoadManifest(cfg.ManifestFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Manifest = ManifestConfig{
			CacheName:      m.CacheName,
			Assets:         m.Assets,
			Strategy:       m.Strategy.String(),
			WaitForClients: m.WaitForClients,
		}
	}
	return cfg, nil
}

// LoadManifest reads a standalone manifest file.
func LoadManifest(path string) (offcache.Manifest, error) {
	var m offcache.Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, m.Validate()
}

// ManifestValue converts the manifest section into an offcache.Manifest.
func (c Config) ManifestValue() (offcache.Manifest, error) {
	s, err := offcache.ParseStrategy(c.Manifest.Strategy)
	if err != nil {
		return offcache.Manifest{}, err
	}
	m := offcache.Manifest{
		CacheName:      c.Manifest.CacheName,
		Assets:         c.Manifest.Assets,
		Strategy:       s,
		WaitForClients: c.Manifest.WaitForClients,
	}
	return m, m.Validate()
}

// Validate checks what the daemon needs before it can serve, including a
// usable manifest.
func (c Config) Validate() error {
	err := c.ValidateRuntime()
	if _, merr := c.ManifestValue(); merr != nil {
		err = errors.Join(err, merr)
	}
	return err
}

// ValidateRuntime checks everything except the manifest; enough for commands
// that only inspect or clear existing stores.
func (c Config) ValidateRuntime() error {
	var errs []error
	if c.Upstream == "" {
		errs = append(errs, errors.New("upstream is required"))
	} else if u, err := url.Parse(c.Upstream); err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream %q must be an absolute URL", c.Upstream))
	}
	switch strings.ToLower(c.Provider.Kind) {
	case "ristretto", "bigcache", "redis", "disk":
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Kind))
	}
	if _, err := codec.ByName[offcache.Response](c.Codec); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Registry) {
	case "", "disk", "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown registry %q", c.Registry))
	}
	return errors.Join(errs...)
}

// RegistryKind resolves an empty Registry: the record goes next to the stores
// when they are on disk, so a restart resumes offline; otherwise it is kept in
// memory, which is all a memory-only provider can back anyway.
func (c Config) RegistryKind() string {
	if r := strings.ToLower(c.Registry); r != "" {
		return r
	}
	if strings.EqualFold(c.Provider.Kind, "disk") {
		return "disk"
	}
	return "local"
}

// Scope is Upstream with a trailing slash, so "/app" does not also claim "/apple".
func (c Config) Scope() string {
	if strings.HasSuffix(c.Upstream, "/") {
		return c.Upstream
	}
	return c.Upstream + "/"
}
