package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trustcore/internal/ledger/models"
	id "trustcore/pkg/domain"
)

// InMemoryStore keeps the whole ledger behind one RWMutex. Update stages
// writes in a draft and merges them only when the callback succeeds.
type InMemoryStore struct {
	mu        sync.RWMutex
	balances  map[id.AccountID]decimal.Decimal
	positions map[id.AccountID]models.Position
	supply    models.Supply
	staked    decimal.Decimal
}

// NewInMemoryStore creates an empty ledger capped at maxSupply.
func NewInMemoryStore(maxSupply decimal.Decimal) *InMemoryStore {
	return &InMemoryStore{
		balances:  make(map[id.AccountID]decimal.Decimal),
		positions: make(map[id.AccountID]models.Position),
		supply:    models.Supply{Total: decimal.Zero, Max: maxSupply},
		staked:    decimal.Zero,
	}
}

func (s *InMemoryStore) Update(_ context.Context, fn func(b Book) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := newDraft(s)
	if err := fn(d); err != nil {
		return err
	}
	d.commit()
	return nil
}

func (s *InMemoryStore) View(_ context.Context, fn func(b Book) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newDraft(s))
}

// draft overlays staged writes on the committed state.
type draft struct {
	base      *InMemoryStore
	balances  map[id.AccountID]decimal.Decimal
	positions map[id.AccountID]*models.Position // nil value marks a delete
	supply    *models.Supply
}

func newDraft(base *InMemoryStore) *draft {
	return &draft{
		base:      base,
		balances:  make(map[id.AccountID]decimal.Decimal),
		positions: make(map[id.AccountID]*models.Position),
	}
}

func (d *draft) Balance(account id.AccountID) decimal.Decimal {
	if v, ok := d.balances[account]; ok {
		return v
	}
	if v, ok := d.base.balances[account]; ok {
		return v
	}
	return decimal.Zero
}

func (d *draft) SetBalance(account id.AccountID, amount decimal.Decimal) {
	d.balances[account] = amount
}

func (d *draft) Position(staker id.AccountID) (models.Position, bool) {
	if p, ok := d.positions[staker]; ok {
		if p == nil {
			return models.Position{}, false
		}
		return *p, true
	}
	p, ok := d.base.positions[staker]
	return p, ok
}

func (d *draft) PutPosition(p models.Position) {
	d.positions[p.Staker] = &p
}

func (d *draft) DeletePosition(staker id.AccountID) {
	d.positions[staker] = nil
}

func (d *draft) Supply() models.Supply {
	if d.supply != nil {
		return *d.supply
	}
	return d.base.supply
}

func (d *draft) SetSupply(s models.Supply) {
	d.supply = &s
}

func (d *draft) TotalStaked() decimal.Decimal {
	total := d.base.staked
	for staker, p := range d.positions {
		if old, ok := d.base.positions[staker]; ok {
			total = total.Sub(old.Principal)
		}
		if p != nil {
			total = total.Add(p.Principal)
		}
	}
	return total
}

func (d *draft) commit() {
	d.base.staked = d.TotalStaked()
	for account, v := range d.balances {
		if v.IsZero() {
			delete(d.base.balances, account)
			continue
		}
		d.base.balances[account] = v
	}
	for staker, p := range d.positions {
		if p == nil {
			delete(d.base.positions, staker)
			continue
		}
		d.base.positions[staker] = *p
	}
	if d.supply != nil {
		d.base.supply = *d.supply
	}
}
