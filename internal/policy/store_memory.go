package policy

import (
	"context"
	"sync"

	id "trustcore/pkg/domain"
)

// InMemoryStore keeps policies in a map for single-node deployments and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	policies map[id.AssetType]Policy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{policies: make(map[id.AssetType]Policy)}
}

func (s *InMemoryStore) Put(_ context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.AssetType] = p
	return nil
}

// Get returns the stored policy and whether one exists.
func (s *InMemoryStore) Get(_ context.Context, assetType id.AssetType) (Policy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[assetType]
	return p, ok, nil
}
