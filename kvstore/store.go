// Package kvstore is the thin contract over a remote key-value service that
// every higher-level component in this gateway builds on: conditional-set,
// atomic decrement, atomic capped-increment, get, and delete.
package kvstore

import (
	"context"
	"time"
)

// Store is the gateway's only view of external key-value state. All higher
// components (registry excluded) depend on this interface, never on a
// concrete backend.
type Store interface {
	// SetNX writes value at key with ttl only if the key is currently
	// absent, returning true iff the caller acquired exclusivity.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set unconditionally writes value at key with ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value at key, or ok=false if absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// DecrIfPositive atomically decrements the integer counter at key by 1
	// and returns consumed=true, but only if its current value is > 0;
	// otherwise it leaves the counter untouched and returns consumed=false.
	// A missing key is treated as 0.
	DecrIfPositive(ctx context.Context, key string) (consumed bool, err error)

	// IncrCapped atomically increments the integer counter at key by 1
	// unless it is already >= cap, and unconditionally refreshes the key's
	// TTL either way. Returns the counter's value after the operation.
	// A missing key is treated as 0.
	IncrCapped(ctx context.Context, key string, cap int64, ttl time.Duration) (count int64, err error)
}
