package async

import "context"

// Future for async
// cation: Future must be initialized with `NewFuture`
//
// usage:
//
//	f := NewFuture[int]()
//	go f.Resolve(1)
//	v, err := AwaitContext(ctx, f)
type Future[T any] struct {
	ch chan T
}

// Resolve resolves a Future with a value. Only the first call takes
// effect; later calls return without blocking.
func (f Future[T]) Resolve(v T) bool {
	select {
	case f.ch <- v:
		return true
	default:
		return false
	}
}

// NewFuture creates a new Future with buffered channel
func NewFuture[T any]() Future[T] {
	return Future[T]{ch: make(chan T, 1)}
}

// AwaitContext waits for the result of a Future or for ctx to end.
func AwaitContext[T any](ctx context.Context, f Future[T]) (T, error) {
	select {
	case v := <-f.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
