package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"trustcore/internal/platform/postgres"
	"trustcore/internal/verification/models"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists records in verification_records. Signature and
// attestor lists are TEXT[] columns.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `asset_id, asset_type, owner, score, evidence_hash, bundle_digest,
	expires_at, signatures, attestor_ids, status, submitted_by, status_reason,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *models.Record) error {
	query := `INSERT INTO verification_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.db.ExecContext(ctx, query,
		string(r.AssetID), string(r.AssetType), string(r.Owner), int64(r.Score), r.EvidenceHash, r.BundleDigest,
		r.ExpiresAt, pq.Array(r.Signatures), pq.Array(accountStrings(r.AttestorIDs)),
		string(r.Status), string(r.SubmittedBy), r.StatusReason, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("verification %s: %w", r.AssetID, sentinel.ErrAlreadyExists)
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByAssetID(ctx context.Context, assetID id.AssetID) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM verification_records WHERE asset_id = $1`, string(assetID))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification %s: %w", assetID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Execute(ctx context.Context, assetID id.AssetID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	var out *models.Record
	err := postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := txcontext.Executor(ctx, s.db)
		row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM verification_records WHERE asset_id = $1 FOR UPDATE`, string(assetID))
		r, err := scanRecord(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("verification %s: %w", assetID, sentinel.ErrNotFound)
			}
			return fmt.Errorf("lock verification: %w", err)
		}
		if err := validate(r); err != nil {
			return err
		}
		mutate(r)

		_, err = tx.ExecContext(ctx, `
			UPDATE verification_records SET status = $2, status_reason = $3, updated_at = $4
			WHERE asset_id = $1`,
			string(r.AssetID), string(r.Status), r.StatusReason, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update verification: %w", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r           models.Record
		assetID     string
		assetType   string
		owner       string
		score       int64
		attestorIDs []string
		status      string
		submittedBy string
	)
	if err := row.Scan(&assetID, &assetType, &owner, &score, &r.EvidenceHash, &r.BundleDigest,
		&r.ExpiresAt, pq.Array(&r.Signatures), pq.Array(&attestorIDs), &status, &submittedBy,
		&r.StatusReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.AssetID = id.AssetID(assetID)
	r.AssetType = id.AssetType(assetType)
	r.Owner = id.AccountID(owner)
	r.Score = id.BasisPoints(score)
	r.Status = models.Status(status)
	r.SubmittedBy = id.AccountID(submittedBy)
	r.AttestorIDs = make([]id.AccountID, len(attestorIDs))
	for i, a := range attestorIDs {
		r.AttestorIDs[i] = id.AccountID(a)
	}
	return &r, nil
}

func accountStrings(ids []id.AccountID) []string {
	out := make([]string, len(ids))
	for i, a := range ids {
		out[i] = string(a)
	}
	return out
}
