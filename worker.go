package offcache

import (
	"fmt"
	"sync"
)

// State is the lifecycle position of a Worker.
type State uint8

const (
	StateInstalling State = iota + 1
	StateWaiting
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// allowed transitions; everything may become redundant, nothing leaves redundant
var transitions = map[State][]State{
	StateInstalling: {StateWaiting, StateRedundant},
	StateWaiting:    {StateActivating, StateRedundant},
	StateActivating: {StateActivated, StateRedundant},
	StateActivated:  {StateRedundant},
}

// Worker is one installed version of the cache for a scope. Its store is the
// CacheStorage store named after Version.
type Worker struct {
	manifest Manifest
	hooks    Hooks

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	err         error
}

func newWorker(m Manifest, hooks Hooks, initial State) *Worker {
	return &Worker{manifest: m, hooks: hooks, state: initial}
}

func (w *Worker) Version() string    { return w.manifest.CacheName }
func (w *Worker) Strategy() Strategy { return w.manifest.Strategy }

func (w *Worker) Manifest() Manifest {
	m := w.manifest
	m.Assets = append([]string(nil), w.manifest.Assets...)
	return m
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Err is the install failure of a redundant worker that never became current.
func (w *Worker) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// SkipWaiting reports whether the worker asked to activate without waiting for
// existing clients to go away.
func (w *Worker) SkipWaiting() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

func (w *Worker) setSkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	from := w.state
	ok := false
	for _, s := range transitions[from] {
		if s == to {
			ok = true
			break
		}
	}
	if ok {
		w.state = to
	}
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, w.Version(), from, to)
	}
	w.hooks.StateChanged(w.Version(), from, to)
	return nil
}

// fail marks a worker that never became current.
func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	_ = w.transition(StateRedundant)
}

// retire makes a worker redundant; a no-op if it already is.
func (w *Worker) retire() {
	if w.State() != StateRedundant {
		_ = w.transition(StateRedundant)
	}
}
