// Package kv defines the shared fast key/value store the validation
// pipeline relies on for all contested state. The pipeline never takes
// locks of its own; single-consumption and cooldown invariants come from
// the store's atomic primitives.
package kv

import (
	"context"
	"time"
)

// Store is the atomic key/value capability consumed by the services and
// the pipeline. Production deployments back it with Redis; tests use the
// in-process implementation.
type Store interface {
	// Get returns the value for key and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key unconditionally. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key only if it does not already exist, returning true
	// when this call performed the write. This is the single-consumption
	// primitive: under a race exactly one caller sees true.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IncrWithTTL atomically increments a counter, arming ttl when the
	// increment created the key.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// HSet writes one field of a hash.
	HSet(ctx context.Context, key, field, value string) error

	// HDel removes fields from a hash.
	HDel(ctx context.Context, key string, fields ...string) error

	// HGetAll returns every field of a hash; an absent hash is an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// SAdd adds members to a set.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from a set.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of a set.
	SMembers(ctx context.Context, key string) ([]string, error)
}
