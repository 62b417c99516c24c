package regstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Disk keeps one YAML file per scope under a directory. Put it next to a disk
// provider's stores and a restarted process resumes the version it last
// activated without touching the network.
type Disk struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*Disk)(nil)

type diskRecord struct {
	Scope       string    `yaml:"scope"`
	Version     string    `yaml:"version"`
	Strategy    string    `yaml:"strategy"`
	Assets      []string  `yaml:"assets"`
	ActivatedAt time.Time `yaml:"activatedAt"`
}

func NewDisk(dir string) (*Disk, error) {
	if dir == "" {
		return nil, errors.New("regstore: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("regstore: create %s: %w", dir, err)
	}
	return &Disk{dir: dir}, nil
}

func (s *Disk) path(scope string) string {
	sum := sha256.Sum256([]byte(scope))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8])+".yaml")
}

func (s *Disk) Load(ctx context.Context, scope string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	b, err := os.ReadFile(s.path(scope))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var dr diskRecord
	if err := yaml.Unmarshal(b, &dr); err != nil {
		return Record{}, false, fmt.Errorf("regstore: decode %s: %w", s.path(scope), err)
	}
	// a hash collision or a hand-copied file
	if dr.Scope != scope || dr.Version == "" {
		return Record{}, false, nil
	}
	return Record{
		Version:     dr.Version,
		Strategy:    dr.Strategy,
		Assets:      dr.Assets,
		ActivatedAt: dr.ActivatedAt,
	}, true, nil
}

// Save writes a temp file and renames it over the old record, so a crash
// leaves either the previous record or the new one.
func (s *Disk) Save(ctx context.Context, scope string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := yaml.Marshal(diskRecord{
		Scope:       scope,
		Version:     rec.Version,
		Strategy:    rec.Strategy,
		Assets:      rec.Assets,
		ActivatedAt: rec.ActivatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("regstore: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path(scope)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Disk) Delete(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(scope))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Disk) Close(context.Context) error { return nil }
