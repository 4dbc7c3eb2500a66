// Package protection implements the ProtectionBuffer: a stepped, decaying
// guarantee over a newly tokenized asset's valuation plus its reported
// price history.
package protection

import (
	"time"

	"github.com/shopspring/decimal"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

var (
	ErrAlreadyActive    = dErrors.New(dErrors.CodeConflict, "protection already active for asset")
	ErrNotFound         = dErrors.New(dErrors.CodeNotFound, "no protection for asset")
	ErrInvalidValuation = dErrors.New(dErrors.CodeValidation, "valuation must be positive")
	ErrInvalidPrice     = dErrors.New(dErrors.CodeValidation, "price must be positive")
)

// step is one row of the decay table: Level applies from Since onwards.
type step struct {
	Since time.Duration
	Level id.BasisPoints
}

// decay is ordered by descending Since.
var decay = []step{
	{Since: 96 * time.Hour, Level: 0},
	{Since: 48 * time.Hour, Level: 5000},
	{Since: 24 * time.Hour, Level: 7000},
	{Since: 0, Level: 9000},
}

// LevelAfter returns the protection level after elapsed time. Negative
// elapsed time (clock skew) reads as freshly activated.
func LevelAfter(elapsed time.Duration) id.BasisPoints {
	for _, s := range decay {
		if elapsed >= s.Since {
			return s.Level
		}
	}
	return decay[len(decay)-1].Level
}

// PricePoint is one reported price.
type PricePoint struct {
	Price      decimal.Decimal
	ReportedAt time.Time
}

// State is the protection tracked for one asset.
type State struct {
	AssetID          id.AssetID
	ActivatedAt      time.Time
	InitialValuation decimal.Decimal
	PriceHistory     []PricePoint
}

// Level returns the protection level at now.
func (s *State) Level(now time.Time) id.BasisPoints {
	return LevelAfter(now.Sub(s.ActivatedAt))
}

// Coverage returns the protected share of the initial valuation at now.
func (s *State) Coverage(now time.Time) decimal.Decimal {
	return s.Level(now).Of(s.InitialValuation)
}

func (s State) clone() State {
	s.PriceHistory = append([]PricePoint(nil), s.PriceHistory...)
	return s
}
