package tokenization

import (
	"context"
	"fmt"
	"sync"

	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

// Error Contract:
// - Create returns sentinel.ErrAlreadyExists when the asset is already in the catalog
// - FindByID returns sentinel.ErrNotFound for unknown assets
// - FeeBP reports ok=false until SetFeeBP has been called
// - Inside a tx.Memory unit a failed unit removes the created asset

// InMemoryStore keeps the catalog for single-node deployments and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	assets map[id.AssetID]Asset
	feeBP  id.BasisPoints
	feeSet bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{assets: make(map[id.AssetID]Asset)}
}

func (s *InMemoryStore) Create(ctx context.Context, a *Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[a.AssetID]; ok {
		return fmt.Errorf("asset %s: %w", a.AssetID, sentinel.ErrAlreadyExists)
	}
	s.assets[a.AssetID] = *a
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.assets, a.AssetID)
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, assetID id.AssetID) (*Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, sentinel.ErrNotFound)
	}
	return &a, nil
}

func (s *InMemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.assets)), nil
}

func (s *InMemoryStore) FeeBP(_ context.Context) (id.BasisPoints, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeBP, s.feeSet, nil
}

func (s *InMemoryStore) SetFeeBP(_ context.Context, bp id.BasisPoints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeBP = bp
	s.feeSet = true
	return nil
}
