package protection

import (
	"context"
	"fmt"
	"sync"

	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

// Error Contract:
// - Create returns sentinel.ErrAlreadyExists when the asset is already protected
// - FindByID and Execute return sentinel.ErrNotFound for unknown assets
// - Execute returns the validate error unchanged and applies no mutation
// - Inside a tx.Memory unit a failed unit restores the previous state

// InMemoryStore keeps protection states in a map. Callers get copies.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[id.AssetID]State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[id.AssetID]State)}
}

func (s *InMemoryStore) Create(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[st.AssetID]; ok {
		return fmt.Errorf("protection %s: %w", st.AssetID, sentinel.ErrAlreadyExists)
	}
	s.states[st.AssetID] = st.clone()
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.states, st.AssetID)
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, assetID id.AssetID) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[assetID]
	if !ok {
		return nil, fmt.Errorf("protection %s: %w", assetID, sentinel.ErrNotFound)
	}
	st = st.clone()
	return &st, nil
}

func (s *InMemoryStore) Execute(ctx context.Context, assetID id.AssetID, validate func(*State) error, mutate func(*State)) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.states[assetID]
	if !ok {
		return nil, fmt.Errorf("protection %s: %w", assetID, sentinel.ErrNotFound)
	}
	st := prev.clone()
	if err := validate(&st); err != nil {
		return nil, err
	}
	mutate(&st)
	s.states[assetID] = st.clone()
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.states[assetID] = prev
	})
	return &st, nil
}
