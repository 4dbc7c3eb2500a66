package store

import (
	"context"
	"fmt"
	"sync"

	"trustcore/internal/verification/models"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
)

// Error Contract:
// - Create returns sentinel.ErrAlreadyExists when the asset already has a record
// - FindByAssetID and Execute return sentinel.ErrNotFound for unknown assets
// - Execute returns the validate error unchanged and applies no mutation

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.AssetID]models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.AssetID]models.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.AssetID]; ok {
		return fmt.Errorf("verification %s: %w", r.AssetID, sentinel.ErrAlreadyExists)
	}
	s.records[r.AssetID] = cloneRecord(*r)
	return nil
}

func (s *InMemoryStore) FindByAssetID(_ context.Context, assetID id.AssetID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[assetID]
	if !ok {
		return nil, fmt.Errorf("verification %s: %w", assetID, sentinel.ErrNotFound)
	}
	r = cloneRecord(r)
	return &r, nil
}

func (s *InMemoryStore) Execute(_ context.Context, assetID id.AssetID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[assetID]
	if !ok {
		return nil, fmt.Errorf("verification %s: %w", assetID, sentinel.ErrNotFound)
	}
	r = cloneRecord(r)
	if err := validate(&r); err != nil {
		return nil, err
	}
	mutate(&r)
	s.records[assetID] = r
	out := cloneRecord(r)
	return &out, nil
}

func cloneRecord(r models.Record) models.Record {
	r.Signatures = append([]string(nil), r.Signatures...)
	r.AttestorIDs = append([]id.AccountID(nil), r.AttestorIDs...)
	return r
}
