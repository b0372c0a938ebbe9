package actions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the external calls of send_email and webhook.
type RetryPolicy struct {
	Attempts        uint
	InitialInterval time.Duration
	AttemptTimeout  time.Duration
}

var DefaultRetry = RetryPolicy{
	Attempts:        3,
	InitialInterval: 500 * time.Millisecond,
	AttemptTimeout:  10 * time.Second,
}

// retryableError marks a failure that survived every attempt of a transient call.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var retryable *retryableError

	return errors.As(err, &retryable)
}

// withRetry runs op with exponential backoff and a timeout per attempt. An
// error wrapped with backoff.Permanent stops immediately. It returns the value,
// the number of attempts made and the last error.
func withRetry[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, op func(ctx context.Context) (T, error)) (T, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval

	attempts := 0
	permanent := false

	value, err := backoff.Retry(ctx, func() (T, error) {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()

		value, err := op(attemptCtx)

		var stop *backoff.PermanentError
		if errors.As(err, &stop) {
			permanent = true
		}

		return value, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.Attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "Attempt failed, retrying", "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		var stop *backoff.PermanentError
		if errors.As(err, &stop) {
			err = stop.Err
		}

		if !permanent {
			err = &retryableError{err: err}
		}

		return value, attempts, err
	}

	return value, attempts, nil
}
