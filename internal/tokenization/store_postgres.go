package tokenization

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"trustcore/internal/platform/postgres"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

const (
	uniqueViolation = "23505"
	feeSettingName  = "tokenization_fee_bp"
)

// PostgresStore persists the tokenized catalog and the current fee.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const assetColumns = `asset_id, owner, asset_type, name, location, total_value, token_supply,
	maturity_date, is_active, fee_paid, tokenized_at`

func (s *PostgresStore) Create(ctx context.Context, a *Asset) error {
	return postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		var maturity sql.NullTime
		if !a.MaturityDate.IsZero() {
			maturity = sql.NullTime{Time: a.MaturityDate, Valid: true}
		}
		_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `INSERT INTO tokenized_assets (`+assetColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			string(a.AssetID), string(a.Owner), string(a.AssetType), a.Name, a.Location,
			a.TotalValue, a.TokenSupply, maturity, a.IsActive, a.FeePaid, a.TokenizedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("asset %s: %w", a.AssetID, sentinel.ErrAlreadyExists)
			}
			return fmt.Errorf("insert asset: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, assetID id.AssetID) (*Asset, error) {
	var (
		a         Asset
		owner     string
		assetType string
		maturity  sql.NullTime
	)
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM tokenized_assets WHERE asset_id = $1`, string(assetID),
	).Scan(new(string), &owner, &assetType, &a.Name, &a.Location, &a.TotalValue, &a.TokenSupply,
		&maturity, &a.IsActive, &a.FeePaid, &a.TokenizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", assetID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find asset: %w", err)
	}
	a.AssetID = assetID
	a.Owner = id.AccountID(owner)
	a.AssetType = id.AssetType(assetType)
	if maturity.Valid {
		a.MaturityDate = maturity.Time
	}
	return &a, nil
}

func (s *PostgresStore) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM tokenized_assets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return uint64(n), nil
}

func (s *PostgresStore) FeeBP(ctx context.Context) (id.BasisPoints, bool, error) {
	var bp int64
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT value FROM protocol_settings WHERE name = $1`, feeSettingName).Scan(&bp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load tokenization fee: %w", err)
	}
	return id.BasisPoints(bp), true, nil
}

func (s *PostgresStore) SetFeeBP(ctx context.Context, bp id.BasisPoints) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO protocol_settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		feeSettingName, int64(bp),
	)
	if err != nil {
		return fmt.Errorf("store tokenization fee: %w", err)
	}
	return nil
}
