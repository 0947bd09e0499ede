// Package kvstore defines the key-value capability backing webhook dedup,
// health persistence and metrics aggregates. Callers depend on the Store
// interface only; Redis is the production adapter, Memory the test/dev one.
package kvstore

import (
	"context"
	"time"
)

// Store is the narrow key-value contract the orchestration core needs.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a value; ttl <= 0 means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes the value only if the key is absent, atomically, and
	// reports whether the write happened. This is the dedup primitive.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// SortedAppend adds a member to a score-ordered set, e.g. a
	// timestamp-ordered event log.
	SortedAppend(ctx context.Context, key string, score float64, member string) error
	// SortedRange returns members by ascending score over [start, stop]
	// indexes; stop == -1 means through the end.
	SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}
