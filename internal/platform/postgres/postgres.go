// Package postgres opens the shared database handle and owns the schema the
// durable stores expect.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"trustcore/internal/platform/config"
	dErrors "trustcore/pkg/domain-errors"
	txcontext "trustcore/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// Open connects using the pgx stdlib driver. Returns nil if the URL is empty
// (Postgres not configured).
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RunInTx executes fn inside a transaction carried on the context, so stores
// that consult txcontext join it. The transaction is rolled back if fn fails;
// after-commit hooks run once it commits.
func RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txCtx, unit := txcontext.Begin(txcontext.WithTx(ctx, tx))
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		unit.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		unit.Rollback()
		return fmt.Errorf("commit tx: %w", err)
	}
	unit.Commit(ctx)
	return nil
}

const defaultTxTimeout = 5 * time.Second

// Transactor runs cross-store units of work in one Postgres transaction.
// Stores built on the same *sql.DB join it through the context.
type Transactor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTransactor bounds each unit by timeout, or 5s when timeout is zero.
func NewTransactor(db *sql.DB, timeout time.Duration) *Transactor {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &Transactor{db: db, timeout: timeout}
}

func (t *Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	err := RunInTx(ctx, t.db, fn)
	if err != nil && ctx.Err() != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction timed out")
	}
	return err
}
