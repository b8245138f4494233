package pipeline

// Result is the outcome of one pipeline step: a value or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps an error. A nil err is replaced so Fail never yields success.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = errNilFailure
	}
	return Result[T]{err: err}
}

// From builds a Result from a conventional (value, error) pair.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}

// Ok reports whether the step succeeded.
func (r Result[T]) Ok() bool { return r.err == nil }

// Value returns the value; the zero value on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the error; nil on success.
func (r Result[T]) Err() error { return r.err }

// Unpack returns the conventional (value, error) pair.
func (r Result[T]) Unpack() (T, error) { return r.value, r.err }
