package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trustcore/internal/attestor/models"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

// Error Contract:
// - Create returns sentinel.ErrAlreadyExists when the id is taken
// - FindByID and Execute return sentinel.ErrNotFound for unknown ids
// - Execute returns the validate error unchanged and applies no mutation
// - Inside a tx.Memory unit a failed unit restores the previous attestor

// InMemoryStore keeps attestors in a map guarded by a RWMutex. Callers get
// copies, never pointers into the map.
type InMemoryStore struct {
	mu        sync.RWMutex
	attestors map[id.AccountID]models.Attestor
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{attestors: make(map[id.AccountID]models.Attestor)}
}

func (s *InMemoryStore) Create(_ context.Context, a *models.Attestor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attestors[a.ID]; ok {
		return fmt.Errorf("attestor %s: %w", a.ID, sentinel.ErrAlreadyExists)
	}
	s.attestors[a.ID] = *a
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, attestorID id.AccountID) (*models.Attestor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attestors[attestorID]
	if !ok {
		return nil, fmt.Errorf("attestor %s: %w", attestorID, sentinel.ErrNotFound)
	}
	return &a, nil
}

// ListActive returns active attestors ordered by id.
func (s *InMemoryStore) ListActive(_ context.Context) ([]*models.Attestor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Attestor, 0, len(s.attestors))
	for _, a := range s.attestors {
		if a.Active {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Execute validates and mutates one attestor under the write lock.
func (s *InMemoryStore) Execute(ctx context.Context, attestorID id.AccountID, validate func(*models.Attestor) error, mutate func(*models.Attestor)) (*models.Attestor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.attestors[attestorID]
	if !ok {
		return nil, fmt.Errorf("attestor %s: %w", attestorID, sentinel.ErrNotFound)
	}
	a := prev
	if err := validate(&a); err != nil {
		return nil, err
	}
	mutate(&a)
	s.attestors[attestorID] = a
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.attestors[attestorID] = prev
	})
	return &a, nil
}
