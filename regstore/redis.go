package regstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("regstore: nil redis client")

// Redis stores one hash per scope under "reg:<namespace>:<scope>".
type Redis struct {
	rdb   redis.UniversalClient
	ns    string
	owned bool
	once  sync.Once
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed store. When closeClient is set, Close also
// closes client; otherwise the caller keeps ownership of it.
func NewRedis(client redis.UniversalClient, namespace string, closeClient bool) (*Redis, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: client, ns: namespace, owned: closeClient}, nil
}

func (s *Redis) key(scope string) string { return "reg:" + s.ns + ":" + scope }

const (
	fieldVersion     = "version"
	fieldStrategy    = "strategy"
	fieldAssets      = "assets"
	fieldActivatedAt = "activated_at"
)

func (s *Redis) Load(ctx context.Context, scope string) (Record, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(scope)).Result()
	if err != nil {
		return Record{}, false, err
	}
	return decodeHash(m)
}

func (s *Redis) Save(ctx context.Context, scope string, rec Record) error {
	fields, err := encodeHash(rec)
	if err != nil {
		return err
	}
	k := s.key(scope)
	// replace, not merge: stale fields from an older record must not survive
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, fields)
		return nil
	})
	return err
}

func (s *Redis) Delete(ctx context.Context, scope string) error {
	return s.rdb.Del(ctx, s.key(scope)).Err()
}

func (s *Redis) Close(context.Context) error {
	if !s.owned {
		return nil
	}
	var err error
	s.once.Do(func() { err = s.rdb.Close() })
	return err
}

func encodeHash(rec Record) (map[string]any, error) {
	assets, err := json.Marshal(rec.Assets)
	if err != nil {
		return nil, fmt.Errorf("regstore: encode assets: %w", err)
	}
	return map[string]any{
		fieldVersion:     rec.Version,
		fieldStrategy:    rec.Strategy,
		fieldAssets:      string(assets),
		fieldActivatedAt: rec.ActivatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// decodeHash treats an empty hash as a missing record.
func decodeHash(m map[string]string) (Record, bool, error) {
	if len(m) == 0 || m[fieldVersion] == "" {
		return Record{}, false, nil
	}
	rec := Record{Version: m[fieldVersion], Strategy: m[fieldStrategy]}
	if a := m[fieldAssets]; a != "" {
		if err := json.Unmarshal([]byte(a), &rec.Assets); err != nil {
			return Record{}, false, fmt.Errorf("regstore: decode assets: %w", err)
		}
	}
	if ts := m[fieldActivatedAt]; ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Record{}, false, fmt.Errorf("regstore: decode activated_at: %w", err)
		}
		rec.ActivatedAt = t
	}
	return rec, true, nil
}
