package offcache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	c "github.com/unkn0wn-root/offcache/codec"
	"github.com/unkn0wn-root/offcache/internal/util"
	"github.com/unkn0wn-root/offcache/internal/wire"
	pr "github.com/unkn0wn-root/offcache/provider"
)

// CacheStorage is the set of named stores of one namespace on a Provider.
//
// Keys:
//
//	stores:<ns>          - index of store names (creation order)
//	store:<ns>:<name>    - index of request identities in a store
//	entry:<ns>:<hash>    - one framed response; hash over (name, identity)
//
// Index read-modify-write is serialized by mu. Entry reads are not.
type CacheStorage struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[Response]
	log      Logger
	now      func() time.Time

	mu sync.Mutex
}

func newCacheStorage(ns string, p pr.Provider, cd c.Codec[Response], log Logger, now func() time.Time) *CacheStorage {
	return &CacheStorage{ns: ns, provider: p, codec: cd, log: log, now: now}
}

func (s *CacheStorage) namesKey() string            { return "stores:" + s.ns }
func (s *CacheStorage) indexKey(name string) string { return "store:" + s.ns + ":" + name }

func (s *CacheStorage) entryKey(name, id string) string {
	return util.HashKey("entry:"+s.ns, name, id)
}

// Keys returns store names in creation order.
func (s *CacheStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex(ctx, s.namesKey())
}

// Has reports whether a store with that name exists.
func (s *CacheStorage) Has(ctx context.Context, name string) (bool, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// Open returns the named store, creating it if absent.
func (s *CacheStorage) Open(ctx context.Context, name string) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("offcache: empty store name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readIndex(ctx, s.namesKey())
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		if err := s.writeIndex(ctx, s.namesKey(), append(names, name)); err != nil {
			return nil, err
		}
		s.log.Debug("store created", Fields{"store": name})
	}
	return &Store{name: name, s: s}, nil
}

// Delete removes the store and every entry in it. Returns false if it did not exist.
// Entry deletes are best-effort; the store is unlisted even if some fail, so
// leftovers are unreachable and get overwritten by a future store of that name.
func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readIndex(ctx, s.namesKey())
	if err != nil {
		return false, err
	}
	i := slices.Index(names, name)
	if i < 0 {
		return false, nil
	}

	ids, err := s.readIndex(ctx, s.indexKey(name))
	if err != nil {
		s.log.Warn("store index unreadable; entries orphaned", Fields{"store": name, "err": err})
	}
	for _, id := range ids {
		if err := s.provider.Del(ctx, s.entryKey(name, id)); err != nil {
			s.log.Warn("entry delete failed", Fields{"store": name, "key": id, "err": err})
		}
	}
	if err := s.provider.Del(ctx, s.indexKey(name)); err != nil {
		return false, err
	}
	if err := s.writeIndex(ctx, s.namesKey(), slices.Delete(names, i, i+1)); err != nil {
		return false, err
	}
	s.log.Debug("store deleted", Fields{"store": name, "entries": len(ids)})
	return true, nil
}

// readIndex: missing => empty; corrupt => deleted and empty (self-heal).
func (s *CacheStorage) readIndex(ctx context.Context, key string) ([]string, error) {
	raw, ok, err := s.provider.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	names, err := wire.DecodeIndex(raw)
	if err != nil {
		s.log.Warn("corrupt index dropped", Fields{"key": key})
		_ = s.provider.Del(ctx, key)
		return nil, nil
	}
	return names, nil
}

func (s *CacheStorage) writeIndex(ctx context.Context, key string, names []string) error {
	if len(names) == 0 {
		return s.provider.Del(ctx, key)
	}
	b := wire.EncodeIndex(names)
	ok, err := s.provider.Set(ctx, key, b, int64(len(b)))
	if err != nil {
		return err
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

// Store is one named cache store. The handle stays valid after the store is
// deleted; writes then fail with ErrStoreNotFound.
type Store struct {
	name string
	s    *CacheStorage
}

func (st *Store) Name() string { return st.name }

// Keys returns the identities stored, in first-insertion order.
func (st *Store) Keys(ctx context.Context) ([]string, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.s.readIndex(ctx, st.s.indexKey(st.name))
}

// Match looks up the response stored for req under the given vary headers.
// Corrupt or undecodable entries are deleted and reported as a miss.
func (st *Store) Match(ctx context.Context, req *Request, vary []string) (*Response, bool, error) {
	return st.match(ctx, req.identity(vary))
}

func (st *Store) match(ctx context.Context, id string) (*Response, bool, error) {
	k := st.s.entryKey(st.name, id)
	raw, ok, err := st.s.provider.Get(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}
	storedAt, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = st.s.provider.Del(ctx, k) // self-heal corrupt
		st.s.log.Debug("corrupt entry dropped", Fields{"store": st.name, "key": id})
		return nil, false, nil
	}
	resp, err := st.s.codec.Decode(payload)
	if err != nil {
		_ = st.s.provider.Del(ctx, k) // self-heal
		st.s.log.Debug("undecodable entry dropped", Fields{"store": st.name, "key": id, "err": err})
		return nil, false, nil
	}
	resp.StoredAt = time.Unix(0, storedAt)
	return &resp, true, nil
}

// Put stores resp for req, overwriting any previous entry (last write wins).
func (st *Store) Put(ctx context.Context, req *Request, vary []string, resp *Response) error {
	return st.put(ctx, req.identity(vary), resp)
}

func (st *Store) put(ctx context.Context, id string, resp *Response) error {
	payload, err := st.s.codec.Encode(*resp)
	if err != nil {
		return err
	}
	frame := wire.EncodeEntry(st.s.now().UnixNano(), payload)

	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	names, err := st.s.readIndex(ctx, st.s.namesKey())
	if err != nil {
		return err
	}
	if !slices.Contains(names, st.name) {
		return ErrStoreNotFound
	}

	k := st.s.entryKey(st.name, id)
	ok, err := st.s.provider.Set(ctx, k, frame, int64(len(frame)))
	if err != nil {
		return err
	}
	if !ok {
		return ErrRejected
	}

	ids, err := st.s.readIndex(ctx, st.s.indexKey(st.name))
	if err != nil {
		_ = st.s.provider.Del(ctx, k)
		return err
	}
	if slices.Contains(ids, id) {
		return nil
	}
	if err := st.s.writeIndex(ctx, st.s.indexKey(st.name), append(ids, id)); err != nil {
		// unindexed entries would survive a purge
		_ = st.s.provider.Del(ctx, k)
		return err
	}
	return nil
}

// StoreStat summarizes a store.
type StoreStat struct {
	Entries int
	Bytes   int64 // response bodies only
	Newest  time.Time
}

// Stat reads every entry of the store. Entries that fail to decode are
// dropped by the read and not counted.
func (st *Store) Stat(ctx context.Context) (StoreStat, error) {
	var out StoreStat
	ids, err := st.Keys(ctx)
	if err != nil {
		return out, err
	}
	for _, id := range ids {
		resp, ok, err := st.match(ctx, id)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		out.Entries++
		out.Bytes += int64(len(resp.Body))
		if resp.StoredAt.After(out.Newest) {
			out.Newest = resp.StoredAt
		}
	}
	return out, nil
}

// Delete removes the entry for req. Returns false if there was none.
func (st *Store) Delete(ctx context.Context, req *Request, vary []string) (bool, error) {
	id := req.identity(vary)

	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	ids, err := st.s.readIndex(ctx, st.s.indexKey(st.name))
	if err != nil {
		return false, err
	}
	i := slices.Index(ids, id)
	if i < 0 {
		return false, nil
	}
	if err := st.s.provider.Del(ctx, st.s.entryKey(st.name, id)); err != nil {
		return false, err
	}
	return true, st.s.writeIndex(ctx, st.s.indexKey(st.name), slices.Delete(ids, i, i+1))
}
