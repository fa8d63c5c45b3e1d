package registry

import (
	"context"
	"sync"
)

// Mapping pairs an external hostname with its proxy code. Both sides are
// unique and a mapping never changes once stored.
type Mapping struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Store is the persistence contract behind the registry.
//
// FindByName and FindByCode return ErrNotFound when nothing matches.
// InsertUnique must be atomic: it stores m only if neither m.Name nor m.Code
// is taken, and otherwise returns ErrNameConflict or ErrCodeConflict without
// leaving a partial write behind.
type Store interface {
	FindByName(ctx context.Context, name string) (Mapping, error)
	FindByCode(ctx context.Context, code string) (Mapping, error)
	InsertUnique(ctx context.Context, m Mapping) error
}

// MemoryStore is an in-process Store. Mappings are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	byName map[string]string
	byCode map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byName: make(map[string]string),
		byCode: make(map[string]string),
	}
}

func (s *MemoryStore) FindByName(_ context.Context, name string) (Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.byName[name]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	return Mapping{Name: name, Code: code}, nil
}

func (s *MemoryStore) FindByCode(_ context.Context, code string) (Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.byCode[code]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	return Mapping{Name: name, Code: code}, nil
}

func (s *MemoryStore) InsertUnique(_ context.Context, m Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[m.Name]; ok {
		return ErrNameConflict
	}
	if _, ok := s.byCode[m.Code]; ok {
		return ErrCodeConflict
	}
	s.byName[m.Name] = m.Code
	s.byCode[m.Code] = m.Name
	return nil
}

// Len returns the number of stored mappings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}
