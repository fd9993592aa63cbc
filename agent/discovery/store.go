package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/orchestra/internal/cache"
)

// HealthStore externalizes the health side-table, e.g. for a dashboard
// running in another process.
type HealthStore interface {
	SaveHealth(ctx context.Context, rec HealthRecord) error
	LoadHealth(ctx context.Context, name string) (*HealthRecord, error)
	DeleteHealth(ctx context.Context, name string) error
}

// InMemoryHealthStore is a HealthStore backed by an in-memory map.
type InMemoryHealthStore struct {
	mu      sync.RWMutex
	records map[string]HealthRecord
}

// NewInMemoryHealthStore creates a new InMemoryHealthStore.
func NewInMemoryHealthStore() *InMemoryHealthStore {
	return &InMemoryHealthStore{records: make(map[string]HealthRecord)}
}

func (s *InMemoryHealthStore) SaveHealth(_ context.Context, rec HealthRecord) error {
	if rec.Agent == "" {
		return fmt.Errorf("invalid health record: empty agent name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Agent] = rec
	return nil
}

func (s *InMemoryHealthStore) LoadHealth(_ context.Context, name string) (*HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHealthNotFound, name)
	}
	return &rec, nil
}

func (s *InMemoryHealthStore) DeleteHealth(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
	return nil
}

// JSONCache is the subset of the cache manager used by CacheHealthStore.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CacheHealthStore stores health records as JSON in the Redis-backed cache.
type CacheHealthStore struct {
	cache     JSONCache
	keyPrefix string
	ttl       time.Duration
}

// NewCacheHealthStore creates a CacheHealthStore. A zero ttl uses the cache default.
func NewCacheHealthStore(c JSONCache, keyPrefix string, ttl time.Duration) *CacheHealthStore {
	if keyPrefix == "" {
		keyPrefix = "orchestra:"
	}
	return &CacheHealthStore{cache: c, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *CacheHealthStore) key(name string) string {
	return s.keyPrefix + "health:" + name
}

func (s *CacheHealthStore) SaveHealth(ctx context.Context, rec HealthRecord) error {
	if rec.Agent == "" {
		return fmt.Errorf("invalid health record: empty agent name")
	}
	return s.cache.SetJSON(ctx, s.key(rec.Agent), rec, s.ttl)
}

func (s *CacheHealthStore) LoadHealth(ctx context.Context, name string) (*HealthRecord, error) {
	var rec HealthRecord
	if err := s.cache.GetJSON(ctx, s.key(name), &rec); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, fmt.Errorf("%w: %s", ErrHealthNotFound, name)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *CacheHealthStore) DeleteHealth(ctx context.Context, name string) error {
	return s.cache.Delete(ctx, s.key(name))
}
