package tx

import (
	"context"
	"sync"
)

// Runner executes fn as a single unit of work. Stores called with the ctx
// passed to fn join that unit; a non-nil return from fn undoes their writes.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type unitKey struct{}

// Unit collects the hooks registered during one unit of work.
type Unit struct {
	mu     sync.Mutex
	undo   []func()
	commit []func(ctx context.Context)
}

// Begin returns ctx carrying a new unit.
func Begin(ctx context.Context) (context.Context, *Unit) {
	u := &Unit{}
	return context.WithValue(ctx, unitKey{}, u), u
}

// InUnit reports whether ctx carries a unit of work.
func InUnit(ctx context.Context) bool {
	_, ok := ctx.Value(unitKey{}).(*Unit)
	return ok
}

// Rollback replays undo steps newest first.
func (u *Unit) Rollback() {
	u.mu.Lock()
	undo := u.undo
	u.undo, u.commit = nil, nil
	u.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Commit runs the after-commit hooks in registration order with ctx, which
// must not carry the finished transaction.
func (u *Unit) Commit(ctx context.Context) {
	u.mu.Lock()
	hooks := u.commit
	u.undo, u.commit = nil, nil
	u.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

// OnRollback registers undo with the unit carried by ctx. Outside a unit it
// does nothing.
func OnRollback(ctx context.Context, undo func()) {
	if u, ok := ctx.Value(unitKey{}).(*Unit); ok {
		u.mu.Lock()
		u.undo = append(u.undo, undo)
		u.mu.Unlock()
	}
}

// AfterCommit defers fn until the unit carried by ctx commits; a rolled back
// unit drops it. Outside a unit fn runs immediately with ctx.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	u, ok := ctx.Value(unitKey{}).(*Unit)
	if !ok {
		fn(ctx)
		return
	}
	u.mu.Lock()
	u.commit = append(u.commit, fn)
	u.mu.Unlock()
}

// Memory is the Runner for in-memory stores. Units are serialized; stores
// record undo steps with OnRollback and a failed unit replays them. Nested
// calls join the outer unit.
type Memory struct {
	mu sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InUnit(ctx) {
		return fn(ctx)
	}
	m.mu.Lock()
	unitCtx, u := Begin(ctx)
	err := fn(unitCtx)
	if err != nil {
		u.Rollback()
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	u.Commit(ctx)
	return nil
}
