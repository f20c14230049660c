package dupwalk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Awaitable is anything that can run a callback once it has finished.
// Both futures and folder records satisfy it so a folder can wait on a mix of them.
type Awaitable interface {
	OnDone(fn func())
}

// Future is a one-shot result. The first Complete wins; later calls are ignored.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	val       T
	err       error
	callbacks []func(T, error)
}

// NewFuture returns an incomplete future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with v
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v, nil)
	return f
}

// Failed returns a future already completed with err
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Complete stores the result and runs registered callbacks on the calling goroutine.
// It returns false if the future was already complete.
func (f *Future[T]) Complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.val = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed once the future completes
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the stored value without blocking; ok is false while incomplete
func (f *Future[T]) Result() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err, f.completed
}

// Wait blocks until the future completes or ctx ends
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrWaitInterrupted, ctx.Err())
	}
}

// OnComplete registers fn to receive the result. If the future is already
// complete fn runs immediately on the caller's goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	fn(v, err)
}

// OnDone implements Awaitable
func (f *Future[T]) OnDone(fn func()) {
	f.OnComplete(func(T, error) { fn() })
}

// Then runs fn on pool once f completes and completes the returned future with fn's result.
// No goroutine blocks while f is outstanding.
func Then[T, U any](f *Future[T], pool *WorkerPool, fn func(T, error) (U, error)) *Future[U] {
	next := NewFuture[U]()
	f.OnComplete(func(v T, err error) {
		submitErr := pool.Submit(func() {
			u, uerr := fn(v, err)
			next.Complete(u, uerr)
		})
		if submitErr != nil {
			var zero U
			next.Complete(zero, submitErr)
		}
	})
	return next
}

// Go runs fn on pool and returns a future for its result
func Go[T any](pool *WorkerPool, fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	if err := pool.Submit(func() {
		v, err := fn()
		f.Complete(v, err)
	}); err != nil {
		var zero T
		f.Complete(zero, err)
	}
	return f
}

// WhenAll calls fn once every item has finished. With no items fn runs immediately
// on the caller's goroutine; otherwise it runs on whichever goroutine finishes the last item.
func WhenAll(items []Awaitable, fn func()) {
	if len(items) == 0 {
		fn()
		return
	}
	var remaining atomic.Int64
	remaining.Store(int64(len(items)))
	for _, item := range items {
		item.OnDone(func() {
			if remaining.Add(-1) == 0 {
				fn()
			}
		})
	}
}
