// Package models holds the escrow Settlement and its state machine.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

// Status is the escrow state of a settlement.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInTransit Status = "IN_TRANSIT"
	StatusDelivered Status = "DELIVERED"
	StatusSettled   Status = "SETTLED"
	StatusDisputed  Status = "DISPUTED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSettled || s == StatusDisputed
}

var (
	ErrNoPayment        = dErrors.New(dErrors.CodeRuleViolation, "escrow requires a positive payment")
	ErrInvalidDeadline  = dErrors.New(dErrors.CodeValidation, "delivery deadline must be in the future")
	ErrNotFound         = dErrors.New(dErrors.CodeNotFound, "settlement not found")
	ErrNotParticipant   = dErrors.New(dErrors.CodeForbidden, "caller is not a party to this settlement")
	ErrSettlementClosed = dErrors.New(dErrors.CodeConflict, "settlement is already settled or disputed")
	ErrNotDelivered     = dErrors.New(dErrors.CodeConflict, "settlement has not been delivered")
	ErrSelfDealing      = dErrors.New(dErrors.CodeValidation, "buyer and seller must differ")
)

// Role is the capacity in which a confirmer acts.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleOracle Role = "oracle"
)

// Confirmation is one appended delivery confirmation.
type Confirmation struct {
	Confirmer   id.AccountID
	Role        Role
	ProofHash   string
	IsValid     bool
	ConfirmedAt time.Time
}

// Settlement is a buyer/seller escrow over an asset trade.
type Settlement struct {
	ID               id.SettlementID
	AssetID          id.AssetID
	Buyer            id.AccountID
	Seller           id.AccountID
	Amount           decimal.Decimal
	Fee              decimal.Decimal
	Payout           decimal.Decimal
	DeliveryDeadline time.Time
	TrackingHash     string
	Status           Status
	Confirmations    []Confirmation
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewSettlement opens an escrow in PENDING.
func NewSettlement(assetID id.AssetID, buyer, seller id.AccountID, amount decimal.Decimal, deadline time.Time, trackingHash string, now time.Time) *Settlement {
	return &Settlement{
		ID:               id.NewSettlementID(),
		AssetID:          assetID,
		Buyer:            buyer,
		Seller:           seller,
		Amount:           amount,
		Fee:              decimal.Zero,
		Payout:           decimal.Zero,
		DeliveryDeadline: deadline,
		TrackingHash:     trackingHash,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ValidateOpen checks the escrow preconditions.
func ValidateOpen(buyer, seller id.AccountID, amount decimal.Decimal, deadline, now time.Time) error {
	if !amount.IsPositive() {
		return ErrNoPayment
	}
	if !deadline.After(now) {
		return ErrInvalidDeadline
	}
	if buyer == seller {
		return ErrSelfDealing
	}
	return nil
}

// RoleOf returns the party role of caller, if any.
func (s *Settlement) RoleOf(caller id.AccountID) (Role, bool) {
	switch caller {
	case s.Buyer:
		return RoleBuyer, true
	case s.Seller:
		return RoleSeller, true
	}
	return "", false
}

// CanConfirm checks a confirmation may be appended.
func (s *Settlement) CanConfirm() error {
	if s.Status.IsTerminal() {
		return ErrSettlementClosed
	}
	return nil
}

// ApplyConfirmation appends a confirmation and advances the state machine.
// Seller and oracle confirmations mark shipment (PENDING to IN_TRANSIT);
// a buyer confirmation marks receipt (to DELIVERED). Other confirmations
// are recorded without a transition.
func (s *Settlement) ApplyConfirmation(confirmer id.AccountID, role Role, proofHash string, now time.Time) {
	s.Confirmations = append(s.Confirmations, Confirmation{
		Confirmer:   confirmer,
		Role:        role,
		ProofHash:   proofHash,
		IsValid:     true,
		ConfirmedAt: now,
	})
	switch role {
	case RoleSeller, RoleOracle:
		if s.Status == StatusPending {
			s.Status = StatusInTransit
		}
	case RoleBuyer:
		if s.Status == StatusPending || s.Status == StatusInTransit {
			s.Status = StatusDelivered
		}
	}
	s.UpdatedAt = now
}

// CanDispute checks caller may dispute the settlement.
func (s *Settlement) CanDispute(caller id.AccountID) error {
	if _, ok := s.RoleOf(caller); !ok {
		return ErrNotParticipant
	}
	if s.Status.IsTerminal() {
		return ErrSettlementClosed
	}
	return nil
}

// ApplyDispute moves the settlement to DISPUTED.
func (s *Settlement) ApplyDispute(now time.Time) {
	s.Status = StatusDisputed
	s.UpdatedAt = now
}

// CanSettle checks the escrow may be released.
func (s *Settlement) CanSettle() error {
	if s.Status.IsTerminal() {
		return ErrSettlementClosed
	}
	if s.Status != StatusDelivered {
		return ErrNotDelivered
	}
	return nil
}

// ApplySettle releases the escrow: feeBP of the amount is withheld and the
// rest is paid to the seller.
func (s *Settlement) ApplySettle(feeBP id.BasisPoints, now time.Time) {
	s.Fee = feeBP.Of(s.Amount)
	s.Payout = s.Amount.Sub(s.Fee)
	s.Status = StatusSettled
	s.UpdatedAt = now
}

// Clone returns a deep copy.
func (s Settlement) Clone() Settlement {
	s.Confirmations = append([]Confirmation(nil), s.Confirmations...)
	return s
}
