package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNetwork marks a backend failure caused by the connection (timeout,
// refused or reset). RedisCache wraps it with Retryable.
var ErrNetwork = errors.New("network error")

// RetryableError marks a transient cache failure.
type RetryableError struct{ Err error }

// Retryable marks err as transient. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err or anything it wraps is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// RetryPolicy bounds RetryPolicy.Do.
type RetryPolicy struct {
	Attempts int           // Total calls, including the first
	Delay    time.Duration // Pause after the first failure, doubled each time
}

// DefaultRetry is the policy of RetryWithBackoff. Sweep workers write
// results between evaluations, so the pauses stay short.
var DefaultRetry = RetryPolicy{Attempts: 3, Delay: 100 * time.Millisecond}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx ends.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.Delay
	var err error
	for i := range attempts {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return err
}

// RetryWithBackoff runs fn under DefaultRetry.
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return DefaultRetry.Do(ctx, fn)
}
