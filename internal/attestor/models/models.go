// Package models holds the Attestor entity and its reputation and slashing
// rules.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

const (
	// InitialReputation is assigned on registration (50%).
	InitialReputation id.BasisPoints = 5000
	// SlashRate is the share of stake removed per slash (25%).
	SlashRate id.BasisPoints = 2500
	// MaxConsecutiveSlashes deactivates an attestor on the third slash in a row.
	MaxConsecutiveSlashes = 3
)

var (
	ErrInsufficientStake = dErrors.New(dErrors.CodeRuleViolation, "insufficient stake")
	ErrAlreadyRegistered = dErrors.New(dErrors.CodeConflict, "attestor already registered")
	ErrNotFound          = dErrors.New(dErrors.CodeNotFound, "attestor not found")
	ErrNotActive         = dErrors.New(dErrors.CodeRuleViolation, "attestor is not active")
	ErrAlreadyActive     = dErrors.New(dErrors.CodeConflict, "attestor is already active")
)

// Attestor is a staked identity allowed to co-sign verifications.
type Attestor struct {
	ID                  id.AccountID
	OrganizationName    string
	Country             string
	Stake               decimal.Decimal
	Reputation          id.BasisPoints
	TotalAttestations   uint64
	CorrectAttestations uint64
	ConsecutiveSlashes  int
	Active              bool
	RegisteredAt        time.Time
	UpdatedAt           time.Time
}

// NewAttestor builds an active attestor at the initial reputation.
func NewAttestor(attestorID id.AccountID, org, country string, stake decimal.Decimal, now time.Time) *Attestor {
	return &Attestor{
		ID:               attestorID,
		OrganizationName: org,
		Country:          country,
		Stake:            stake,
		Reputation:       InitialReputation,
		Active:           true,
		RegisteredAt:     now,
		UpdatedAt:        now,
	}
}

// ValidateStake checks a registration payment against the requested stake and
// the protocol minimum.
func ValidateStake(requested, paid, minimum decimal.Decimal) error {
	if paid.LessThan(requested) || requested.LessThan(minimum) {
		return ErrInsufficientStake
	}
	return nil
}

// Accuracy returns correct*10000/total, or the current reputation when
// nothing has been recorded yet.
func (a *Attestor) Accuracy() id.BasisPoints {
	if a.TotalAttestations == 0 {
		return a.Reputation
	}
	return id.BasisPoints(a.CorrectAttestations * id.BasisPointsDenominator / a.TotalAttestations)
}

// RecordAttestation adds one adjudicated attestation and recomputes
// reputation. A correct attestation ends a run of consecutive slashes.
func (a *Attestor) RecordAttestation(correct bool, now time.Time) {
	a.TotalAttestations++
	if correct {
		a.CorrectAttestations++
		a.ConsecutiveSlashes = 0
	}
	a.Reputation = a.Accuracy()
	a.UpdatedAt = now
}

// SlashOutcome reports the effect of a slash.
type SlashOutcome struct {
	Slashed            decimal.Decimal
	PreviousReputation id.BasisPoints
	Deactivated        bool
}

// CanSlash checks that the attestor is eligible for slashing.
func (a *Attestor) CanSlash() error {
	if !a.Active {
		return ErrNotActive
	}
	return nil
}

// ApplySlash removes 25% of stake and counts one incorrect attestation. The
// resulting reputation is at least 1 bp below the previous value whenever
// that value was above zero. The attestor is deactivated when its stake
// drops below minimum or on the third consecutive slash.
func (a *Attestor) ApplySlash(minimum decimal.Decimal, now time.Time) SlashOutcome {
	out := SlashOutcome{PreviousReputation: a.Reputation}

	slashed := SlashRate.Of(a.Stake)
	if a.Stake.IsPositive() && !slashed.IsPositive() {
		slashed = decimal.NewFromInt(1)
	}
	a.Stake = a.Stake.Sub(slashed)
	out.Slashed = slashed

	a.TotalAttestations++
	a.Reputation = a.Accuracy()
	if out.PreviousReputation > 0 && a.Reputation >= out.PreviousReputation {
		a.Reputation = out.PreviousReputation - 1
	}

	a.ConsecutiveSlashes++
	if a.Stake.LessThan(minimum) || a.ConsecutiveSlashes >= MaxConsecutiveSlashes {
		a.Active = false
		out.Deactivated = true
	}
	a.UpdatedAt = now
	return out
}

// CanReactivate checks that an inactive attestor would meet minimum after
// adding topUp.
func (a *Attestor) CanReactivate(topUp, minimum decimal.Decimal) error {
	if a.Active {
		return ErrAlreadyActive
	}
	if a.Stake.Add(topUp).LessThan(minimum) {
		return ErrInsufficientStake
	}
	return nil
}

// ApplyReactivation restores the attestor with the added stake.
func (a *Attestor) ApplyReactivation(topUp decimal.Decimal, now time.Time) {
	a.Stake = a.Stake.Add(topUp)
	a.Active = true
	a.ConsecutiveSlashes = 0
	a.UpdatedAt = now
}
