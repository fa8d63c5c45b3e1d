package registry

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedStore keeps recently used mappings in memory in front of a slower
// Store. Mappings are immutable, so only misses ever reach the backend.
// Negative results are not cached.
type CachedStore struct {
	backend Store
	byName  *gocache.Cache
	byCode  *gocache.Cache
}

// NewCachedStore wraps backend. Entries expire ttl after they were loaded.
func NewCachedStore(backend Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		backend: backend,
		byName:  gocache.New(ttl, 2*ttl),
		byCode:  gocache.New(ttl, 2*ttl),
	}
}

func (s *CachedStore) FindByName(ctx context.Context, name string) (Mapping, error) {
	if code, ok := s.byName.Get(name); ok {
		return Mapping{Name: name, Code: code.(string)}, nil
	}
	m, err := s.backend.FindByName(ctx, name)
	if err != nil {
		return Mapping{}, err
	}
	s.remember(m)
	return m, nil
}

func (s *CachedStore) FindByCode(ctx context.Context, code string) (Mapping, error) {
	if name, ok := s.byCode.Get(code); ok {
		return Mapping{Name: name.(string), Code: code}, nil
	}
	m, err := s.backend.FindByCode(ctx, code)
	if err != nil {
		return Mapping{}, err
	}
	s.remember(m)
	return m, nil
}

func (s *CachedStore) InsertUnique(ctx context.Context, m Mapping) error {
	if err := s.backend.InsertUnique(ctx, m); err != nil {
		return err
	}
	s.remember(m)
	return nil
}

// ItemCount returns the number of cached hostnames.
func (s *CachedStore) ItemCount() int {
	return s.byName.ItemCount()
}

func (s *CachedStore) remember(m Mapping) {
	s.byName.SetDefault(m.Name, m.Code)
	s.byCode.SetDefault(m.Code, m.Name)
}
