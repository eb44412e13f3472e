package utils

// Result is the result of a function. useful for chan.
type Result[T any] struct {
	Err error
	Val T
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Val: v}
}

// Err wraps an error.
func Err[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Unwrap returns the value and the error.
func (r Result[T]) Unwrap() (T, error) {
	return r.Val, r.Err
}
