package offcache

import "context"

// Task is the future of an asynchronous operation. It completes exactly once.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn in its own goroutine and returns its future.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.val, t.err = fn(ctx)
	}()
	return t
}

// Done is closed when the task has completed.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Await blocks until the task completes or ctx is done. Giving up on a task
// does not cancel it; cancel the context passed to Go for that.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
