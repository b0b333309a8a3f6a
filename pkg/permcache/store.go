package permcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrCacheMiss is returned by a Store when a key is not present
var ErrCacheMiss = errors.New("cache miss")

// Store is the key-value backend of the permission cache
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore is an in-process LRU store
type MemoryStore struct {
	cache *lru.LRU[string, []byte]
}

// NewMemoryStore creates a memory store holding at most maxEntries keys.
// A zero ttl keeps entries until they are evicted or deleted.
func NewMemoryStore(maxEntries int, ttl time.Duration) (*MemoryStore, error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("memory cache needs room for at least one entry, got %d", maxEntries)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("memory cache ttl must not be negative, got %v", ttl)
	}
	return &MemoryStore{cache: lru.NewLRU[string, []byte](maxEntries, nil, ttl)}, nil
}

// Get returns the value for key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return value, nil
}

// Set stores a value
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.cache.Add(key, value)
	return nil
}

// Delete removes keys
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Remove(key)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix
func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, _ := s.Keys(ctx, prefix)
	return s.Delete(ctx, keys...)
}

// Keys lists the keys starting with prefix
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

// Len returns the number of cached keys
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
