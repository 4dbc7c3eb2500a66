package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trustcore/internal/settlement/models"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

// Error Contract:
// - Create returns sentinel.ErrAlreadyExists when the id is taken
// - FindByID and Execute return sentinel.ErrNotFound for unknown ids
// - Execute returns the validate error unchanged and applies no mutation
// - Inside a tx.Memory unit a failed unit restores the previous settlement

type InMemoryStore struct {
	mu          sync.RWMutex
	settlements map[id.SettlementID]models.Settlement
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{settlements: make(map[id.SettlementID]models.Settlement)}
}

func (s *InMemoryStore) Create(_ context.Context, st *models.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[st.ID]; ok {
		return fmt.Errorf("settlement %s: %w", st.ID, sentinel.ErrAlreadyExists)
	}
	s.settlements[st.ID] = st.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, settlementID id.SettlementID) (*models.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[settlementID]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", settlementID, sentinel.ErrNotFound)
	}
	st = st.Clone()
	return &st, nil
}

// ListByAsset returns the settlements for an asset, oldest first.
func (s *InMemoryStore) ListByAsset(_ context.Context, assetID id.AssetID) ([]*models.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Settlement
	for _, st := range s.settlements {
		if st.AssetID == assetID {
			st = st.Clone()
			out = append(out, &st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Execute(ctx context.Context, settlementID id.SettlementID, validate func(*models.Settlement) error, mutate func(*models.Settlement)) (*models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.settlements[settlementID]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", settlementID, sentinel.ErrNotFound)
	}
	st := prev.Clone()
	if err := validate(&st); err != nil {
		return nil, err
	}
	mutate(&st)
	s.settlements[settlementID] = st
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.settlements[settlementID] = prev
	})
	out := st.Clone()
	return &out, nil
}
