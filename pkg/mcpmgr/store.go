package mcpmgr

import (
	"context"
	"sync"
)

// ConfigStore persists server configurations across restarts. LoadAll is
// called once at construction; SaveAll receives the complete ordered set
// after every add, update, or remove.
type ConfigStore interface {
	LoadAll(ctx context.Context) ([]ServerConfig, error)
	SaveAll(ctx context.Context, configs []ServerConfig) error
}

// MemoryStore is a ConfigStore that keeps configurations in memory. It is
// the default when no store is configured.
type MemoryStore struct {
	mu      sync.Mutex
	configs []ServerConfig
	saves   int
}

// NewMemoryStore returns a store preloaded with configs.
func NewMemoryStore(configs ...ServerConfig) *MemoryStore {
	s := &MemoryStore{}
	for _, c := range configs {
		s.configs = append(s.configs, c.Clone())
	}
	return s
}

func (s *MemoryStore) LoadAll(context.Context) ([]ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfigs(s.configs), nil
}

func (s *MemoryStore) SaveAll(_ context.Context, configs []ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = cloneConfigs(configs)
	s.saves++
	return nil
}

// Saves reports how many times SaveAll has been called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func cloneConfigs(in []ServerConfig) []ServerConfig {
	out := make([]ServerConfig, 0, len(in))
	for _, c := range in {
		out = append(out, c.Clone())
	}
	return out
}
