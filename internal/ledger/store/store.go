// Package store persists StakeLedger state. All mutations go through Update,
// which applies a batch of reads and writes atomically: either every write
// made by the callback becomes visible, or none does.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"trustcore/internal/ledger/models"
	id "trustcore/pkg/domain"
)

// Book is the view of ledger state available inside a transaction.
type Book interface {
	Balance(account id.AccountID) decimal.Decimal
	SetBalance(account id.AccountID, amount decimal.Decimal)
	Position(staker id.AccountID) (models.Position, bool)
	PutPosition(p models.Position)
	DeletePosition(staker id.AccountID)
	Supply() models.Supply
	SetSupply(s models.Supply)
	TotalStaked() decimal.Decimal
}

// Store runs ledger transactions.
type Store interface {
	// Update runs fn with write access. Writes are discarded if fn errors.
	Update(ctx context.Context, fn func(b Book) error) error
	// View runs fn against a consistent snapshot. Writes inside View are discarded.
	View(ctx context.Context, fn func(b Book) error) error
}
