package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"trustcore/internal/platform/postgres"
	"trustcore/internal/settlement/models"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists settlements and their append-only confirmations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const settlementColumns = `id, asset_id, buyer, seller, amount, fee, payout,
	delivery_deadline, tracking_hash, status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, st *models.Settlement) error {
	return postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := txcontext.Executor(ctx, s.db)
		_, err := tx.ExecContext(ctx, `INSERT INTO settlements (`+settlementColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			uuid.UUID(st.ID), string(st.AssetID), string(st.Buyer), string(st.Seller),
			st.Amount, st.Fee, st.Payout, st.DeliveryDeadline, st.TrackingHash,
			string(st.Status), st.CreatedAt, st.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("settlement %s: %w", st.ID, sentinel.ErrAlreadyExists)
			}
			return fmt.Errorf("insert settlement: %w", err)
		}
		return insertConfirmations(ctx, tx, st.ID, st.Confirmations, 0)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error) {
	return load(ctx, s.db, settlementID, false)
}

func (s *PostgresStore) ListByAsset(ctx context.Context, assetID id.AssetID) ([]*models.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM settlements WHERE asset_id = $1 ORDER BY created_at`, string(assetID))
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan settlement id: %w", err)
		}
		ids = append(ids, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}

	out := make([]*models.Settlement, 0, len(ids))
	for _, u := range ids {
		st, err := load(ctx, s.db, id.SettlementID(u), false)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Execute locks the settlement row, applies validate and mutate, then writes
// the new state and any confirmations appended by mutate.
func (s *PostgresStore) Execute(ctx context.Context, settlementID id.SettlementID, validate func(*models.Settlement) error, mutate func(*models.Settlement)) (*models.Settlement, error) {
	var out *models.Settlement
	err := postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := txcontext.Executor(ctx, s.db)
		st, err := load(ctx, tx, settlementID, true)
		if err != nil {
			return err
		}
		if err := validate(st); err != nil {
			return err
		}
		existing := len(st.Confirmations)
		mutate(st)

		_, err = tx.ExecContext(ctx, `
			UPDATE settlements SET status = $2, fee = $3, payout = $4, updated_at = $5
			WHERE id = $1`,
			uuid.UUID(st.ID), string(st.Status), st.Fee, st.Payout, st.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update settlement: %w", err)
		}
		if err := insertConfirmations(ctx, tx, st.ID, st.Confirmations[existing:], existing); err != nil {
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

func insertConfirmations(ctx context.Context, q txcontext.DBTX, settlementID id.SettlementID, confirmations []models.Confirmation, offset int) error {
	for i, c := range confirmations {
		_, err := q.ExecContext(ctx, `
			INSERT INTO settlement_confirmations (settlement_id, seq, confirmer, role, proof_hash, is_valid, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.UUID(settlementID), offset+i, string(c.Confirmer), string(c.Role), c.ProofHash, c.IsValid, c.ConfirmedAt,
		)
		if err != nil {
			return fmt.Errorf("insert confirmation: %w", err)
		}
	}
	return nil
}

func load(ctx context.Context, q txcontext.DBTX, settlementID id.SettlementID, forUpdate bool) (*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		st      models.Settlement
		rawID   uuid.UUID
		assetID string
		buyer   string
		seller  string
		status  string
	)
	err := q.QueryRowContext(ctx, query, uuid.UUID(settlementID)).Scan(&rawID, &assetID, &buyer, &seller,
		&st.Amount, &st.Fee, &st.Payout, &st.DeliveryDeadline, &st.TrackingHash, &status,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settlement %s: %w", settlementID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find settlement: %w", err)
	}
	st.ID = id.SettlementID(rawID)
	st.AssetID = id.AssetID(assetID)
	st.Buyer = id.AccountID(buyer)
	st.Seller = id.AccountID(seller)
	st.Status = models.Status(status)

	rows, err := q.QueryContext(ctx, `
		SELECT confirmer, role, proof_hash, is_valid, confirmed_at
		FROM settlement_confirmations WHERE settlement_id = $1 ORDER BY seq`, uuid.UUID(settlementID))
	if err != nil {
		return nil, fmt.Errorf("load confirmations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c         models.Confirmation
			confirmer string
			role      string
		)
		if err := rows.Scan(&confirmer, &role, &c.ProofHash, &c.IsValid, &c.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		c.Confirmer = id.AccountID(confirmer)
		c.Role = models.Role(role)
		st.Confirmations = append(st.Confirmations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmations: %w", err)
	}
	return &st, nil
}
