// Package disk stores values as files under a base directory, one file per key.
// File names are the hex sha256 of the key so arbitrary keys are filesystem-safe.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	pr "github.com/unkn0wn-root/offcache/provider"
)

type Provider struct {
	dir string
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// Dir is the base directory. Empty => os.UserCacheDir()/offcache.
	Dir string
}

// Dir resolves the base directory the same way New does.
// Returns ("", false) if no base can be resolved.
func Dir(cfg Config) (string, bool) {
	if cfg.Dir != "" {
		return cfg.Dir, true
	}
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "offcache"), true
	}
	return "", false
}

func New(cfg Config) (*Provider, error) {
	dir, ok := Dir(cfg)
	if !ok {
		return nil, errors.New("disk provider: no cache directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("disk provider: create %s: %w", dir, err)
	}
	return &Provider{dir: dir}, nil
}

func (p *Provider) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	// two-level fan-out keeps directories small
	return filepath.Join(p.dir, name[:2], name)
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set writes to a temp file and renames it into place so readers never see a
// partially written value.
func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dst := p.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:mnd
		return false, err
	}
	f, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return false, err
	}
	tmp := f.Name()
	if _, err := f.Write(value); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return false, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	err := os.Remove(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (p *Provider) Close(context.Context) error { return nil }
