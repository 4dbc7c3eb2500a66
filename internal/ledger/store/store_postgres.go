package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trustcore/internal/ledger/models"
	"trustcore/internal/platform/postgres"
	id "trustcore/pkg/domain"
	txcontext "trustcore/pkg/platform/tx"
)

// PostgresStore keeps balances, stake positions and the supply counters in
// Postgres. Update locks the ledger_supply row for the whole transaction, so
// ledger writers serialize across instances the way InMemoryStore serializes
// them behind its mutex. The supply cap comes from configuration.
type PostgresStore struct {
	db        *sql.DB
	maxSupply decimal.Decimal
}

func NewPostgresStore(db *sql.DB, maxSupply decimal.Decimal) *PostgresStore {
	return &PostgresStore{db: db, maxSupply: maxSupply}
}

func (s *PostgresStore) Update(ctx context.Context, fn func(b Book) error) error {
	return postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		b := newPGBook(ctx, txcontext.Executor(ctx, s.db), s.maxSupply)
		if err := b.loadSupply(true); err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		if b.err != nil {
			return b.err
		}
		return b.flush()
	})
}

// View reads inside a transaction so every read in fn sees one snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(b Book) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b := newPGBook(ctx, tx, s.maxSupply)
	if err := b.loadSupply(false); err != nil {
		return err
	}
	if err := fn(b); err != nil {
		return err
	}
	return b.err
}

// pgBook reads through to the transaction and stages writes until flush.
// Book methods cannot return errors, so the first query failure is kept in
// err and fails the transaction.
type pgBook struct {
	ctx       context.Context
	q         txcontext.DBTX
	maxSupply decimal.Decimal
	err       error

	balances      map[id.AccountID]decimal.Decimal
	dirtyBalances map[id.AccountID]struct{}

	loaded         map[id.AccountID]*models.Position // as read; nil means absent
	positions      map[id.AccountID]*models.Position // current; nil means absent
	dirtyPositions map[id.AccountID]struct{}

	supply      models.Supply
	supplyDirty bool
	staked      *decimal.Decimal
}

func newPGBook(ctx context.Context, q txcontext.DBTX, maxSupply decimal.Decimal) *pgBook {
	return &pgBook{
		ctx:            ctx,
		q:              q,
		maxSupply:      maxSupply,
		balances:       make(map[id.AccountID]decimal.Decimal),
		dirtyBalances:  make(map[id.AccountID]struct{}),
		loaded:         make(map[id.AccountID]*models.Position),
		positions:      make(map[id.AccountID]*models.Position),
		dirtyPositions: make(map[id.AccountID]struct{}),
	}
}

func (b *pgBook) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *pgBook) loadSupply(forUpdate bool) error {
	query := `SELECT total, paused FROM ledger_supply WHERE id = 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b.supply = models.Supply{Max: b.maxSupply}
	if err := b.q.QueryRowContext(b.ctx, query).Scan(&b.supply.Total, &b.supply.Paused); err != nil {
		return fmt.Errorf("load ledger supply: %w", err)
	}
	return nil
}

func (b *pgBook) Balance(account id.AccountID) decimal.Decimal {
	if v, ok := b.balances[account]; ok {
		return v
	}
	v := decimal.Zero
	err := b.q.QueryRowContext(b.ctx, `SELECT amount FROM ledger_balances WHERE account = $1`, string(account)).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		b.fail(fmt.Errorf("load balance: %w", err))
		return decimal.Zero
	}
	b.balances[account] = v
	return v
}

func (b *pgBook) SetBalance(account id.AccountID, amount decimal.Decimal) {
	b.balances[account] = amount
	b.dirtyBalances[account] = struct{}{}
}

func (b *pgBook) Position(staker id.AccountID) (models.Position, bool) {
	if p, ok := b.positions[staker]; ok {
		if p == nil {
			return models.Position{}, false
		}
		return *p, true
	}
	var (
		p           = models.Position{Staker: staker}
		lockSeconds int64
	)
	err := b.q.QueryRowContext(b.ctx, `
		SELECT principal, lock_seconds, started_at, accrued_reward
		FROM stake_positions WHERE staker = $1`, string(staker),
	).Scan(&p.Principal, &lockSeconds, &p.StartedAt, &p.AccruedReward)
	if errors.Is(err, sql.ErrNoRows) {
		b.loaded[staker] = nil
		b.positions[staker] = nil
		return models.Position{}, false
	}
	if err != nil {
		b.fail(fmt.Errorf("load stake position: %w", err))
		return models.Position{}, false
	}
	p.LockPeriod = time.Duration(lockSeconds) * time.Second
	loaded := p
	b.loaded[staker] = &loaded
	b.positions[staker] = &p
	return p, true
}

func (b *pgBook) PutPosition(p models.Position) {
	b.Position(p.Staker)
	b.positions[p.Staker] = &p
	b.dirtyPositions[p.Staker] = struct{}{}
}

func (b *pgBook) DeletePosition(staker id.AccountID) {
	b.Position(staker)
	b.positions[staker] = nil
	b.dirtyPositions[staker] = struct{}{}
}

func (b *pgBook) Supply() models.Supply {
	return b.supply
}

func (b *pgBook) SetSupply(s models.Supply) {
	b.supply = s
	b.supplyDirty = true
}

func (b *pgBook) TotalStaked() decimal.Decimal {
	if b.staked == nil {
		var total decimal.Decimal
		err := b.q.QueryRowContext(b.ctx, `SELECT COALESCE(SUM(principal), 0) FROM stake_positions`).Scan(&total)
		if err != nil {
			b.fail(fmt.Errorf("sum stake positions: %w", err))
			return decimal.Zero
		}
		b.staked = &total
	}
	total := *b.staked
	for staker := range b.dirtyPositions {
		if old := b.loaded[staker]; old != nil {
			total = total.Sub(old.Principal)
		}
		if p := b.positions[staker]; p != nil {
			total = total.Add(p.Principal)
		}
	}
	return total
}

func (b *pgBook) flush() error {
	for account := range b.dirtyBalances {
		amount := b.balances[account]
		var err error
		if amount.IsZero() {
			_, err = b.q.ExecContext(b.ctx, `DELETE FROM ledger_balances WHERE account = $1`, string(account))
		} else {
			_, err = b.q.ExecContext(b.ctx, `
				INSERT INTO ledger_balances (account, amount) VALUES ($1, $2)
				ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount`,
				string(account), amount)
		}
		if err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
	}
	for staker := range b.dirtyPositions {
		p := b.positions[staker]
		var err error
		if p == nil {
			_, err = b.q.ExecContext(b.ctx, `DELETE FROM stake_positions WHERE staker = $1`, string(staker))
		} else {
			_, err = b.q.ExecContext(b.ctx, `
				INSERT INTO stake_positions (staker, principal, lock_seconds, started_at, accrued_reward)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (staker) DO UPDATE SET principal = EXCLUDED.principal,
					lock_seconds = EXCLUDED.lock_seconds, started_at = EXCLUDED.started_at,
					accrued_reward = EXCLUDED.accrued_reward`,
				string(staker), p.Principal, int64(p.LockPeriod/time.Second), p.StartedAt, p.AccruedReward)
		}
		if err != nil {
			return fmt.Errorf("write stake position: %w", err)
		}
	}
	if b.supplyDirty {
		_, err := b.q.ExecContext(b.ctx, `UPDATE ledger_supply SET total = $1, paused = $2 WHERE id = 1`,
			b.supply.Total, b.supply.Paused)
		if err != nil {
			return fmt.Errorf("write ledger supply: %w", err)
		}
	}
	return nil
}
