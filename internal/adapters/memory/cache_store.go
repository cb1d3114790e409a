package memory

import (
	"context"
	"sort"
	"sync"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// CacheStore keeps cache generations in process memory. It is used when no
// Redis address is configured and in tests. Every method takes the single
// lock, which makes PutAll and DeleteGenerationsExcept atomic.
type CacheStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]domain.CachedEntry
}

// NewCacheStore creates an empty store.
func NewCacheStore() *CacheStore {
	return &CacheStore{generations: make(map[string]map[string]domain.CachedEntry)}
}

func (s *CacheStore) Put(ctx context.Context, generation string, entry domain.CachedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(generation)[entry.Key] = clone(entry)
	return nil
}

func (s *CacheStore) PutAll(ctx context.Context, generation string, entries []domain.CachedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(generation)
	for _, e := range entries {
		b[e.Key] = clone(e)
	}
	return nil
}

func (s *CacheStore) Match(ctx context.Context, generation string, key string) (*domain.CachedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.generations[generation][key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	c := clone(e)
	return &c, nil
}

func (s *CacheStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *CacheStore) DeleteGenerationsExcept(ctx context.Context, keep string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for name := range s.generations {
		if name != keep {
			delete(s.generations, name)
			deleted = append(deleted, name)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// Len returns the number of entries in generation.
func (s *CacheStore) Len(generation string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.generations[generation])
}

func (s *CacheStore) bucket(generation string) map[string]domain.CachedEntry {
	b, ok := s.generations[generation]
	if !ok {
		b = make(map[string]domain.CachedEntry)
		s.generations[generation] = b
	}
	return b
}

func clone(e domain.CachedEntry) domain.CachedEntry {
	e.Header = e.Header.Clone()
	e.Body = append([]byte(nil), e.Body...)
	return e
}
