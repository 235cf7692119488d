// Package storage defines the key/value store the harness persists scenario
// run reports into. Keys live in an optional namespace; the harness uses one
// namespace per scenario so the reports of a scenario can be listed or
// purged together.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is implemented by storage/memory and storage/redis.
type Storage interface {
	// Get retrieves the item stored under key. It returns a nil item when the
	// key does not exist or has expired; errors are reserved for backend
	// failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data under key.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes the key given with WithKey, or the whole namespace when
	// no key is given.
	Delete(ctx context.Context, opts ...Option) error

	// List returns the keys of unexpired items in the namespace, sorted.
	List(ctx context.Context, opts ...Option) ([]string, error)

	// Close releases the backend.
	Close() error
}

// StorageItem represents a stored piece of data with metadata
type StorageItem struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired checks if the item has expired
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations
type Option func(*Options)

// Options collects the values set by Option functions.
type Options struct {
	Namespace Namespace      // nil = global
	Key       *string        // Delete only
	TTL       *time.Duration // Set only
}

// Apply returns the Options described by opts.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Namespace groups keys. A nil Namespace is the global namespace.
type Namespace interface {
	namespace()
}

// ScenarioNamespace holds the reports of one scenario.
type ScenarioNamespace struct {
	Scenario string
}

func (ScenarioNamespace) namespace() {}

// WithScenario selects the namespace of the named scenario.
func WithScenario(name string) Option {
	return func(opts *Options) {
		opts.Namespace = ScenarioNamespace{Scenario: name}
	}
}

// WithKey specifies a specific key for Delete operations
// If not provided, Delete removes the entire namespace
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data. Non-positive values mean
// no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		if ttl > 0 {
			opts.TTL = &ttl
		}
	}
}

var (
	// ErrInvalidOptions is returned when incompatible options are provided
	ErrInvalidOptions = errors.New("storage: invalid option combination")
	// ErrInvalidKey is returned for keys containing the namespace separator.
	ErrInvalidKey = errors.New("storage: invalid key")
)
