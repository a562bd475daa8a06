package session

import (
	"context"
	"sync"
)

// future is a single-assignment value that any number of goroutines can
// wait on.
type future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// resolve sets the value; later calls are ignored.
func (f *future[T]) resolve(v T) {
	f.once.Do(func() {
		f.val = v
		close(f.done)
	})
}

func (f *future[T]) resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// wait blocks until the value is set, abort is closed or ctx ends.
func (f *future[T]) wait(ctx context.Context, abort <-chan struct{}) (T, error) {
	var zero T
	select {
	case <-f.done:
		return f.val, nil
	case <-abort:
		// a value set just before closing still wins
		if f.resolved() {
			return f.val, nil
		}
		return zero, errClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
