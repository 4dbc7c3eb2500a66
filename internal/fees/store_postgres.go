package fees

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"trustcore/internal/platform/postgres"
	id "trustcore/pkg/domain"
	txcontext "trustcore/pkg/platform/tx"
)

// PostgresStore keeps the pool balances in the single fee_pools row and the
// unclaimed validator shares in validator_rewards.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (*Ledger, error) {
	return loadLedger(ctx, txcontext.Executor(ctx, s.db), false)
}

// Execute locks the fee_pools row for the rest of the transaction, so
// distributions and claims serialize across instances.
func (s *PostgresStore) Execute(ctx context.Context, validate func(*Ledger) error, mutate func(*Ledger)) (*Ledger, error) {
	var out *Ledger
	err := postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := txcontext.Executor(ctx, s.db)
		l, err := loadLedger(ctx, tx, true)
		if err != nil {
			return err
		}
		if err := validate(l); err != nil {
			return err
		}
		before := l.clone()
		mutate(l)

		_, err = tx.ExecContext(ctx, `
			UPDATE fee_pools SET treasury = $1, stakers = $2, insurance = $3, validators = $4, carry = $5
			WHERE id = 1`,
			l.Pools.Treasury, l.Pools.Stakers, l.Pools.Insurance, l.Pools.Validators, l.Carry,
		)
		if err != nil {
			return fmt.Errorf("update fee pools: %w", err)
		}
		if err := writeRewards(ctx, tx, before.Rewards, l.Rewards); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeRewards(ctx context.Context, q txcontext.DBTX, before, after map[id.AccountID]decimal.Decimal) error {
	for v, amount := range after {
		if prev, ok := before[v]; ok && prev.Equal(amount) {
			continue
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO validator_rewards (validator, amount) VALUES ($1, $2)
			ON CONFLICT (validator) DO UPDATE SET amount = EXCLUDED.amount`,
			string(v), amount,
		)
		if err != nil {
			return fmt.Errorf("upsert validator reward: %w", err)
		}
	}
	for v := range before {
		if _, ok := after[v]; ok {
			continue
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM validator_rewards WHERE validator = $1`, string(v)); err != nil {
			return fmt.Errorf("delete validator reward: %w", err)
		}
	}
	return nil
}

func loadLedger(ctx context.Context, q txcontext.DBTX, forUpdate bool) (*Ledger, error) {
	query := `SELECT treasury, stakers, insurance, validators, carry FROM fee_pools WHERE id = 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	l := NewLedger()
	err := q.QueryRowContext(ctx, query).Scan(
		&l.Pools.Treasury, &l.Pools.Stakers, &l.Pools.Insurance, &l.Pools.Validators, &l.Carry)
	if err != nil {
		return nil, fmt.Errorf("load fee pools: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT validator, amount FROM validator_rewards`)
	if err != nil {
		return nil, fmt.Errorf("load validator rewards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			validator string
			amount    decimal.Decimal
		)
		if err := rows.Scan(&validator, &amount); err != nil {
			return nil, fmt.Errorf("scan validator reward: %w", err)
		}
		l.Rewards[id.AccountID(validator)] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validator rewards: %w", err)
	}
	return &l, nil
}
