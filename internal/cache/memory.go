package cache

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tidepoint/marketplace/internal/domain"
)

// MemoryStorage is an in-process domain.Storage with an optional byte quota.
// Used in tests and single-process deployments.
type MemoryStorage struct {
	mu         sync.RWMutex
	items      map[string]string
	size       int
	quotaBytes int
}

// NewMemoryStorage creates a memory storage. A quota of zero or less means unlimited.
func NewMemoryStorage(quotaBytes int) *MemoryStorage {
	return &MemoryStorage{
		items:      make(map[string]string),
		quotaBytes: quotaBytes,
	}
}

// Get retrieves a value.
func (s *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

// Set stores a value, failing with domain.ErrQuotaExceeded when the
// quota would be exceeded.
func (s *MemoryStorage) Set(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.size + len(key) + len(value)
	if old, ok := s.items[key]; ok {
		next -= len(key) + len(old)
	}
	if s.quotaBytes > 0 && next > s.quotaBytes {
		return domain.ErrQuotaExceeded
	}

	s.items[key] = value
	s.size = next
	return nil
}

// Remove deletes a value.
func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.items[key]; ok {
		s.size -= len(key) + len(old)
		delete(s.items, key)
	}
	return nil
}

// Keys lists keys with the given prefix in lexical order.
func (s *MemoryStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Size returns the bytes currently used by keys and values.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
