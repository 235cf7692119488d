// Package memory provides an in-process storage.Storage backed by a bounded
// LRU cache from github.com/hashicorp/golang-lru/v2. The oldest reports are
// evicted once the cache is full.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/mcp-stdio-harness/storage"
)

// DefaultSweepInterval is how often expired items are purged in the
// background.
const DefaultSweepInterval = time.Minute

// Storage implements storage.Storage in memory.
type Storage struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *storage.StorageItem]

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a store holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	return newWithSweep(maxItems, DefaultSweepInterval)
}

func newWithSweep(maxItems int, every time.Duration) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}
	go s.sweep(every)

	return s, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	k := buildKey(options.Namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(k)
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.cache.Remove(k)
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if key == "" || strings.Contains(key, "/") {
		return fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	options := storage.Apply(opts...)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(buildKey(options.Namespace, key), item)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}

	prefix := namespacePrefix(options.Namespace)
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

func (s *Storage) List(ctx context.Context, opts ...storage.Option) ([]string, error) {
	options := storage.Apply(opts...)
	prefix := namespacePrefix(options.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for _, k := range s.cache.Keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		item, ok := s.cache.Peek(k)
		if !ok || item.IsExpired() {
			continue
		}
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close stops the background sweep and drops every item.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		s.cache.Purge()
		s.mu.Unlock()
	})
	return nil
}

func buildKey(ns storage.Namespace, key string) string {
	return namespacePrefix(ns) + key
}

func namespacePrefix(ns storage.Namespace) string {
	switch ns := ns.(type) {
	case storage.ScenarioNamespace:
		return "scenario/" + ns.Scenario + "/"
	default:
		return "global/"
	}
}

func (s *Storage) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		for _, k := range s.cache.Keys() {
			if item, ok := s.cache.Peek(k); ok && item.IsExpired() {
				s.cache.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
