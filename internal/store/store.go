// Package store provides the time-bounded key-value backends that hold OTP
// codes, send cooldown markers and the session token whitelist.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidTTL = errors.New("ttl must be positive")
)

// Store is a key-value store whose entries expire on their own once their
// ttl elapses. Implementations must be safe for concurrent use and atomic
// per key.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// CompareAndDelete removes key only if it currently holds value and
	// reports whether it did.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}
