package offcache

import (
	"context"
	"sync"
)

// writer runs best-effort cache writes off the fetch path.
// Jobs are dropped (never block the caller) when the queue is full or the
// writer is closed; pending counts accepted jobs not yet finished.
type writer struct {
	q  chan func()
	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{} // closed when pending drops to 0
}

func newWriter(workers, qlen int) *writer {
	w := &writer{q: make(chan func(), qlen), idle: make(chan struct{})}
	close(w.idle)
	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer w.wg.Done()
			for f := range w.q {
				f()
				w.done()
			}
		}()
	}
	return w
}

// submit queues f. Returns false if it was dropped.
func (w *writer) submit(f func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.q <- f:
		if w.pending == 0 {
			w.idle = make(chan struct{})
		}
		w.pending++
		return true
	default: // drop
		return false
	}
}

func (w *writer) done() {
	w.mu.Lock()
	w.pending--
	if w.pending == 0 {
		close(w.idle)
	}
	w.mu.Unlock()
}

// flush waits until every accepted job has finished or ctx is done.
func (w *writer) flush(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs, lets the workers drain what is queued and waits
// for them, or gives up when ctx is done (remaining writes are abandoned).
func (w *writer) close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.q)
	w.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
