package tenant

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store, used by tests and single-node setups
// seeded from a file.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Config
}

// NewMemoryStore returns a store holding the given configurations.
func NewMemoryStore(cfgs ...Config) *MemoryStore {
	s := &MemoryStore{tenants: make(map[string]Config, len(cfgs))}
	for _, c := range cfgs {
		s.tenants[c.ID] = c
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Numbers = slices.Clone(c.Numbers)
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Config, error) {
	s.mu.RLock()
	out := make([]Config, 0, len(s.tenants))
	for _, c := range s.tenants {
		c.Numbers = slices.Clone(c.Numbers)
		out = append(out, c)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Config) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tenants[cfg.ID] = cfg
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
