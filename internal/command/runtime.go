package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/codec"
	asynchook "github.com/unkn0wn-root/offcache/hooks/async"
	"github.com/unkn0wn-root/offcache/internal/config"
	logzap "github.com/unkn0wn-root/offcache/log/zap"
	pr "github.com/unkn0wn-root/offcache/provider"
	"github.com/unkn0wn-root/offcache/provider/bigcache"
	"github.com/unkn0wn-root/offcache/provider/disk"
	rdsprov "github.com/unkn0wn-root/offcache/provider/redis"
	"github.com/unkn0wn-root/offcache/provider/ristretto"
	"github.com/unkn0wn-root/offcache/regstore"
	"github.com/unkn0wn-root/offcache/sloghooks"
)

// runtime is everything a subcommand needs, built from the loaded config.
type runtime struct {
	cfg   config.Config
	log   *zap.Logger
	hooks *asynchook.Hooks
	rdb   goredis.UniversalClient
	reg   *offcache.Registration
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String(configFlag.Name))
	if err != nil {
		return cfg, err
	}
	if lvl := cmd.String(logLevelFlag.Name); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// setup loads and validates the config and builds the runtime. Commands that
// install a version pass withManifest.
func setup(ctx context.Context, cmd *cli.Command, withManifest bool) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	validate := cfg.ValidateRuntime
	if withManifest {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return newRuntime(ctx, cfg)
}

func newRuntime(ctx context.Context, cfg config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.close(context.Background())
		}
	}()

	if rt.log, err = newLogger(cfg.Log); err != nil {
		return nil, err
	}
	raw := sloghooks.New(newSlog(cfg.Log), sloghooks.Options{CacheHitEvery: 100})
	rt.hooks = asynchook.New(raw, 1, 1024)

	if needsRedis(cfg) {
		rt.rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	cd, err := rt.codec()
	if err != nil {
		return nil, err
	}
	p, err := rt.provider()
	if err != nil {
		return nil, err
	}
	registry, err := rt.registry()
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	rt.reg, err = offcache.New(ctx, offcache.Options{
		Scope:     cfg.Scope(),
		Provider:  p,
		Namespace: cfg.Namespace,
		Fetcher: &offcache.HTTPFetcher{
			Client:  &http.Client{Timeout: cfg.FetchTimeout},
			MaxBody: cfg.MaxBody,
		},
		Logger:             logzap.New(rt.log),
		Hooks:              rt.hooks,
		Registry:           registry,
		Codec:              cd,
		VaryHeaders:        cfg.VaryHeaders,
		InstallConcurrency: cfg.InstallConcurrency,
		WriteWorkers:       cfg.WriteWorkers,
		WriteQueue:         cfg.WriteQueue,
	})
	if err != nil {
		_ = p.Close(ctx)
		_ = registry.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func needsRedis(cfg config.Config) bool {
	return strings.EqualFold(cfg.Provider.Kind, "redis") || cfg.RegistryKind() == "redis"
}

// codec bounds entries by MaxBody when one is set. Headers ride on top of the
// body and JSON base64s it, hence the headroom.
func (rt *runtime) codec() (codec.Codec[offcache.Response], error) {
	cd, err := codec.ByName[offcache.Response](rt.cfg.Codec)
	if err != nil || rt.cfg.MaxBody <= 0 {
		return cd, err
	}
	limit := int(rt.cfg.MaxBody)*2 + 64<<10
	return codec.Limit[offcache.Response]{Inner: cd, MaxEncode: limit, MaxDecode: limit}, nil
}

func (rt *runtime) provider() (pr.Provider, error) {
	pc := rt.cfg.Provider
	switch strings.ToLower(pc.Kind) {
	case "ristretto":
		return ristretto.New(ristretto.Config{
			NumCounters: pc.NumCounters,
			MaxCost:     pc.MaxCost,
			BufferItems: 64,
		})
	case "bigcache":
		return bigcache.New(bigcache.Config{
			Shards:             pc.Shards,
			HardMaxCacheSizeMB: pc.HardMaxMB,
			MaxEntrySize:       pc.MaxEntrySize,
		})
	case "redis":
		return rdsprov.New(rdsprov.Config{Client: rt.rdb, MaxValue: pc.MaxEntrySize})
	case "disk":
		return disk.New(disk.Config{Dir: pc.Dir})
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Kind)
	}
}

// registryDir is the registry subdirectory of the disk provider's base. Store
// files live in two-character fan-out directories, so the name can not clash.
const registryDir = "registry"

func (rt *runtime) registry() (regstore.Store, error) {
	switch kind := rt.cfg.RegistryKind(); kind {
	case "redis":
		ns := rt.cfg.Namespace
		if ns == "" {
			ns = "offcached"
		}
		return regstore.NewRedis(rt.rdb, ns, false)
	case "disk":
		base, ok := disk.Dir(disk.Config{Dir: rt.cfg.Provider.Dir})
		if !ok {
			return nil, errors.New("disk registry: no cache directory")
		}
		return regstore.NewDisk(filepath.Join(base, registryDir))
	case "local":
		return regstore.NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown registry %q", kind)
	}
}

// close tears down in reverse order of construction. The redis client is
// shared by provider and registry, so it is closed last and only here.
func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	if rt.reg != nil {
		errs = append(errs, rt.reg.Close(ctx))
	}
	if rt.hooks != nil {
		rt.hooks.Close()
	}
	if rt.rdb != nil {
		errs = append(errs, rt.rdb.Close())
	}
	if rt.log != nil {
		_ = rt.log.Sync()
	}
	return errors.Join(errs...)
}

func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// newSlog mirrors the zap setup for hook events.
func newSlog(lc config.LogConfig) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(lc.Level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func levelValidator(v string) error {
	if _, err := zapcore.ParseLevel(v); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	return nil
}
