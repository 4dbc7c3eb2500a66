package protection

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

const uniqueViolation = "23505"

// PostgresStore persists protection states and their append-only price
// history.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, st *State) error {
	return postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := txcontext.Executor(ctx, s.db)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO protection_states (asset_id, activated_at, initial_valuation)
			VALUES ($1, $2, $3)`,
			string(st.AssetID), st.ActivatedAt, st.InitialValuation,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("protection %s: %w", st.AssetID, sentinel.ErrAlreadyExists)
			}
			return fmt.Errorf("insert protection: %w", err)
		}
		return insertPrices(ctx, tx, st.AssetID, st.PriceHistory, 0)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, assetID id.AssetID) (*State, error) {
	return loadState(ctx, txcontext.Executor(ctx, s.db), assetID, false)
}

// Execute locks the state row and persists price points appended by mutate.
func (s *PostgresStore) Execute(ctx context.Context, assetID id.AssetID, validate func(*State) error, mutate func(*State)) (*State, error) {
	var out *State
	err := postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := txcontext.Executor(ctx, s.db)
		st, err := loadState(ctx, tx, assetID, true)
		if err != nil {
			return err
		}
		if err := validate(st); err != nil {
			return err
		}
		existing := len(st.PriceHistory)
		mutate(st)
		if err := insertPrices(ctx, tx, assetID, st.PriceHistory[existing:], existing); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func insertPrices(ctx context.Context, q txcontext.DBTX, assetID id.AssetID, points []PricePoint, offset int) error {
	for i, p := range points {
		_, err := q.ExecContext(ctx, `
			INSERT INTO protection_prices (asset_id, seq, price, reported_at)
			VALUES ($1, $2, $3, $4)`,
			string(assetID), offset+i, p.Price, p.ReportedAt,
		)
		if err != nil {
			return fmt.Errorf("insert price point: %w", err)
		}
	}
	return nil
}

func loadState(ctx context.Context, q txcontext.DBTX, assetID id.AssetID, forUpdate bool) (*State, error) {
	query := `SELECT activated_at, initial_valuation FROM protection_states WHERE asset_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	st := State{AssetID: assetID}
	err := q.QueryRowContext(ctx, query, string(assetID)).Scan(&st.ActivatedAt, &st.InitialValuation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("protection %s: %w", assetID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find protection: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT price, reported_at FROM protection_prices
		WHERE asset_id = $1 ORDER BY seq`, string(assetID))
	if err != nil {
		return nil, fmt.Errorf("load price history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.Price, &p.ReportedAt); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		st.PriceHistory = append(st.PriceHistory, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history: %w", err)
	}
	return &st, nil
}
