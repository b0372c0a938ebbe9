// Package lock provides short-lived keyed locks with owner tokens.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidTTL = errors.New("lock ttl must be positive")

// Locker grants a key to one owner at a time until the TTL elapses or the owner
// releases it. Acquire by the current owner refreshes the TTL.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release is a compare-and-delete: it is a no-op when owner no longer holds key.
	Release(ctx context.Context, key, owner string) error
	// Holder returns the current owner, or "" when the key is free.
	Holder(ctx context.Context, key string) (string, error)
}
