package channel

import (
	"context"
	"sync"
)

// Future is the read side of a one-shot result.
type Future[T any] struct {
	access    sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	listeners []func(T, error)
}

// Promise completes its Future exactly once; later completions are ignored.
type Promise[T any] struct {
	Future[T]
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{Future[T]{done: make(chan struct{})}}
}

func Succeeded[T any](value T) *Future[T] {
	promise := NewPromise[T]()
	promise.Succeed(value)
	return &promise.Future
}

func Failed[T any](err error) *Future[T] {
	promise := NewPromise[T]()
	promise.Fail(err)
	return &promise.Future
}

func (p *Promise[T]) Succeed(value T) bool {
	return p.complete(value, nil)
}

func (p *Promise[T]) Fail(err error) bool {
	var defaultValue T
	return p.complete(defaultValue, err)
}

// Complete succeeds with value when err is nil, fails otherwise.
func (p *Promise[T]) Complete(value T, err error) bool {
	return p.complete(value, err)
}

func (f *Future[T]) complete(value T, err error) bool {
	f.access.Lock()
	if f.completed {
		f.access.Unlock()
		return false
	}
	f.completed = true
	f.value = value
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.access.Unlock()
	for _, listener := range listeners {
		listener(value, err)
	}
	return true
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking; done is false while pending.
func (f *Future[T]) Result() (value T, err error, done bool) {
	f.access.Lock()
	defer f.access.Unlock()
	return f.value, f.err, f.completed
}

func (f *Future[T]) IsDone() bool {
	_, _, done := f.Result()
	return done
}

func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var defaultValue T
		return defaultValue, ctx.Err()
	}
}

// OnComplete runs listener on the completing goroutine, or immediately if already complete.
func (f *Future[T]) OnComplete(listener func(T, error)) {
	f.access.Lock()
	if !f.completed {
		f.listeners = append(f.listeners, listener)
		f.access.Unlock()
		return
	}
	value, err := f.value, f.err
	f.access.Unlock()
	listener(value, err)
}

func MapFuture[T, U any](f *Future[T], mapper func(T) U) *Future[U] {
	promise := NewPromise[U]()
	f.OnComplete(func(value T, err error) {
		if err != nil {
			promise.Fail(err)
			return
		}
		promise.Succeed(mapper(value))
	})
	return &promise.Future
}
