package regstore

import (
	"context"
	"sync"
)

// Local keeps records in-process. Records are gone when the process exits,
// which makes it suitable for tests and single-run tools.
type Local struct {
	mu   sync.RWMutex
	recs map[string]Record
}

var _ Store = (*Local)(nil)

func NewLocal() *Local {
	return &Local{recs: make(map[string]Record)}
}

func (s *Local) Load(_ context.Context, scope string) (Record, bool, error) {
	s.mu.RLock()
	rec, ok := s.recs[scope]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	rec.Assets = append([]string(nil), rec.Assets...)
	return rec, true, nil
}

func (s *Local) Save(_ context.Context, scope string, rec Record) error {
	rec.Assets = append([]string(nil), rec.Assets...)
	s.mu.Lock()
	s.recs[scope] = rec
	s.mu.Unlock()
	return nil
}

func (s *Local) Delete(_ context.Context, scope string) error {
	s.mu.Lock()
	delete(s.recs, scope)
	s.mu.Unlock()
	return nil
}

func (s *Local) Close(context.Context) error { return nil }
