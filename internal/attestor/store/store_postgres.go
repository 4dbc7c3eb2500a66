package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"trustcore/internal/platform/postgres"
	"trustcore/internal/attestor/models"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists attestors in the attestors table. Execute locks the
// row with SELECT ... FOR UPDATE for the duration of validate and mutate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const attestorColumns = `id, organization_name, country, stake, reputation,
	total_attestations, correct_attestations, consecutive_slashes, active,
	registered_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, a *models.Attestor) error {
	query := `INSERT INTO attestors (` + attestorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, query,
		string(a.ID), a.OrganizationName, a.Country, a.Stake, int64(a.Reputation),
		int64(a.TotalAttestations), int64(a.CorrectAttestations), a.ConsecutiveSlashes, a.Active,
		a.RegisteredAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("attestor %s: %w", a.ID, sentinel.ErrAlreadyExists)
		}
		return fmt.Errorf("insert attestor: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, attestorID id.AccountID) (*models.Attestor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attestorColumns+` FROM attestors WHERE id = $1`, string(attestorID))
	a, err := scanAttestor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attestor %s: %w", attestorID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find attestor: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.Attestor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attestorColumns+` FROM attestors WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active attestors: %w", err)
	}
	defer rows.Close()

	var out []*models.Attestor
	for rows.Next() {
		a, err := scanAttestor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attestor: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attestors: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Execute(ctx context.Context, attestorID id.AccountID, validate func(*models.Attestor) error, mutate func(*models.Attestor)) (*models.Attestor, error) {
	var out *models.Attestor
	err := postgres.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := txcontext.Executor(ctx, s.db)
		row := tx.QueryRowContext(ctx, `SELECT `+attestorColumns+` FROM attestors WHERE id = $1 FOR UPDATE`, string(attestorID))
		a, err := scanAttestor(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("attestor %s: %w", attestorID, sentinel.ErrNotFound)
			}
			return fmt.Errorf("lock attestor: %w", err)
		}
		if err := validate(a); err != nil {
			return err
		}
		mutate(a)

		_, err = tx.ExecContext(ctx, `
			UPDATE attestors SET
				stake = $2, reputation = $3, total_attestations = $4,
				correct_attestations = $5, consecutive_slashes = $6, active = $7,
				updated_at = $8
			WHERE id = $1`,
			string(a.ID), a.Stake, int64(a.Reputation), int64(a.TotalAttestations),
			int64(a.CorrectAttestations), a.ConsecutiveSlashes, a.Active, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update attestor: %w", err)
		}
		out = a
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

func scanAttestor(row rowScanner) (*models.Attestor, error) {
	var (
		a          models.Attestor
		attestorID string
		reputation int64
		total      int64
		correct    int64
	)
	if err := row.Scan(&attestorID, &a.OrganizationName, &a.Country, &a.Stake, &reputation,
		&total, &correct, &a.ConsecutiveSlashes, &a.Active, &a.RegisteredAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AccountID(attestorID)
	a.Reputation = id.BasisPoints(reputation)
	a.TotalAttestations = uint64(total)
	a.CorrectAttestations = uint64(correct)
	return &a, nil
}
