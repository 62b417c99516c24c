package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"sync/atomic"

	"github.com/unkn0wn-root/offcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	CacheHitEvery    uint64
	WriteFailedEvery uint64
	// Optional URL redactor. Defaults to scheme://host plus a SHA-256 prefix
	// of the rest, so paths and query strings stay out of logs.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr   atomic.Uint64
	writeCtr atomic.Uint64
}

var _ offcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(raw string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(raw)
	}
	sum := sha256.Sum256([]byte(raw))
	tag := hex.EncodeToString(sum[:8])
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return tag
	}
	return u.Scheme + "://" + u.Host + "/#" + tag
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StateChanged(version string, from, to offcache.State) {
	if h.l == nil {
		return
	}
	h.l.Info("offcache.state_changed",
		"version", version,
		"from", from.String(),
		"to", to.String())
}

func (h *Hooks) InstallFailed(version string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("offcache.install_failed",
		"version", version,
		"err", err)
}

func (h *Hooks) CacheHit(store, u string, strategy offcache.Strategy) {
	if h.l == nil || !sample(h.opts.CacheHitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("offcache.cache_hit",
		"store", store,
		"url", h.redact(u),
		"strategy", strategy.String())
}

func (h *Hooks) NetworkFallback(u string, err error, served bool) {
	if h.l == nil {
		return
	}
	lvl := slog.LevelInfo
	if !served {
		lvl = slog.LevelWarn
	}
	h.l.Log(context.Background(), lvl, "offcache.network_fallback",
		"url", h.redact(u),
		"served", served,
		"err", err)
}

func (h *Hooks) CacheWriteFailed(store, u string, err error) {
	if h.l == nil || !sample(h.opts.WriteFailedEvery, &h.writeCtr) {
		return
	}
	if err == nil {
		h.l.Debug("offcache.cache_write_dropped",
			"store", store,
			"url", h.redact(u))
		return
	}
	h.l.Warn("offcache.cache_write_failed",
		"store", store,
		"url", h.redact(u),
		"err", err)
}

func (h *Hooks) StorePurged(name string) {
	if h.l == nil {
		return
	}
	h.l.Info("offcache.store_purged", "store", name)
}
