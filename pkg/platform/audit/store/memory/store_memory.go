package memory

import (
	"context"
	"sync"

	audit "trustcore/pkg/platform/audit"
)

// InMemoryStore keeps events in arrival order, indexed by entity.
type InMemoryStore struct {
	mu       sync.RWMutex
	ordered  []audit.Event
	byEntity map[string][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byEntity: make(map[string][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordered = nil
	s.byEntity = make(map[string][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordered = append(s.ordered, event)
	s.byEntity[event.EntityID] = append(s.byEntity[event.EntityID], event)
	return nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.byEntity[entityID]...), nil
}

// ListRecent returns up to limit of the most recently appended events, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.ordered) {
		limit = len(s.ordered)
	}
	out := make([]audit.Event, 0, limit)
	for i := len(s.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.ordered[i])
	}
	return out, nil
}

// ListByType returns all events of the given type in arrival order.
func (s *InMemoryStore) ListByType(_ context.Context, eventType audit.EventType) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.ordered {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}
