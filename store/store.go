package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and GetHashMap when the key or field is absent.
var ErrNotFound = errors.New("key not found")

// Store is the key/value facade used by the lottery services. Every method is
// a single pass-through to the backing store; nothing is cached or retried.
type Store interface {
	// Increment adds delta to the integer at key, treating a missing key as 0.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Set overwrites the value at key with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetWithTTL overwrites the value at key and expires it after ttlSeconds.
	SetWithTTL(ctx context.Context, key, value string, ttlSeconds int) error

	// Get returns the value at key, or ErrNotFound when the key is absent or
	// has expired.
	Get(ctx context.Context, key string) (string, error)

	// Remove and Delete are aliases: both delete key whatever it holds.
	// Deleting an absent key is not an error.
	Remove(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error

	// GetByPrefix returns the values of every key matching prefix*. The result
	// is nil when no key matches.
	GetByPrefix(ctx context.Context, prefix string) ([]string, error)

	// DelByPrefix deletes every key matching prefix*, of any kind.
	DelByPrefix(ctx context.Context, prefix string) error

	// SetHashSet adds member to the set at key.
	SetHashSet(ctx context.Context, key, member string) error
	// GetHashSet returns the members of the set at key, empty when absent.
	GetHashSet(ctx context.Context, key string) ([]string, error)
	// RemoveHashSet removes member from the set at key.
	RemoveHashSet(ctx context.Context, key, member string) error

	// GetSetByPrefix unions the members of every set whose key matches prefix*.
	// The result is nil when no key matches.
	GetSetByPrefix(ctx context.Context, prefix string) ([]string, error)

	// SetHashMap sets field of the hash at key to value.
	SetHashMap(ctx context.Context, key, field, value string) error
	// GetHashMap returns ErrNotFound when either the hash or the field is
	// missing.
	GetHashMap(ctx context.Context, key, field string) (string, error)
	// GetHashMapList returns the values of the hash at key in no particular
	// order.
	GetHashMapList(ctx context.Context, key string) ([]string, error)
	// GetHashMaps returns every field/value pair of the hash at key.
	GetHashMaps(ctx context.Context, key string) (map[string]string, error)

	// GetHashKeys returns the field names of the hash at key that contain
	// substr (case-sensitive).
	GetHashKeys(ctx context.Context, key, substr string) ([]string, error)

	// DeleteHashKeys removes fields from the hash at key. A blank key or an
	// empty field list does nothing.
	DeleteHashKeys(ctx context.Context, key string, fields ...string) error

	Close() error
}

// prefixPattern builds the wildcard pattern used by the prefix operations.
func prefixPattern(prefix string) string {
	return prefix + "*"
}
