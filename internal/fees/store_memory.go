package fees

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	id "trustcore/pkg/domain"
	txcontext "trustcore/pkg/platform/tx"
)

// Error Contract:
// - Execute returns the validate error unchanged and applies no mutation
// - Inside a tx.Memory unit a failed unit reverses the applied delta

// InMemoryStore keeps the fee ledger for single-node deployments and tests.
type InMemoryStore struct {
	mu     sync.Mutex
	ledger Ledger
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{ledger: NewLedger()}
}

func (s *InMemoryStore) Load(_ context.Context) (*Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.ledger.clone()
	return &l, nil
}

func (s *InMemoryStore) Execute(ctx context.Context, validate func(*Ledger) error, mutate func(*Ledger)) (*Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.ledger.clone()
	if err := validate(&l); err != nil {
		return nil, err
	}
	before := s.ledger.clone()
	mutate(&l)
	s.ledger = l.clone()
	txcontext.OnRollback(ctx, func() { s.revert(before, l) })
	return &l, nil
}

// revert subtracts the change from before to after, leaving writes made by
// other callers in between intact.
func (s *InMemoryStore) revert(before, after Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	undo := func(cur, b, a decimal.Decimal) decimal.Decimal { return cur.Sub(a.Sub(b)) }
	p := &s.ledger.Pools
	p.Treasury = undo(p.Treasury, before.Pools.Treasury, after.Pools.Treasury)
	p.Stakers = undo(p.Stakers, before.Pools.Stakers, after.Pools.Stakers)
	p.Insurance = undo(p.Insurance, before.Pools.Insurance, after.Pools.Insurance)
	p.Validators = undo(p.Validators, before.Pools.Validators, after.Pools.Validators)
	s.ledger.Carry = undo(s.ledger.Carry, before.Carry, after.Carry)

	touched := make(map[id.AccountID]struct{}, len(after.Rewards))
	for v := range after.Rewards {
		touched[v] = struct{}{}
	}
	for v := range before.Rewards {
		touched[v] = struct{}{}
	}
	for v := range touched {
		r := undo(s.ledger.RewardOf(v), before.RewardOf(v), after.RewardOf(v))
		if r.IsZero() {
			delete(s.ledger.Rewards, v)
			continue
		}
		s.ledger.Rewards[v] = r
	}
}
