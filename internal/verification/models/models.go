// Package models holds the VerificationRecord and its status machine.
package models

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	"trustcore/internal/policy"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

// Status is the lifecycle state of a verification.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusManualReview Status = "MANUAL_REVIEW"
	StatusVerified     Status = "VERIFIED"
	StatusRejected     Status = "REJECTED"
	// StatusExpired is never stored; it is derived at read time.
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

var (
	ErrDuplicateVerification  = dErrors.New(dErrors.CodeConflict, "asset already has a verification record")
	ErrInsufficientSignatures = dErrors.New(dErrors.CodeRuleViolation, "not enough attestors for this asset type")
	ErrInactiveAttestor       = dErrors.New(dErrors.CodeRuleViolation, "attestor is not active")
	ErrSignatureMismatch      = dErrors.New(dErrors.CodeValidation, "each attestor must supply exactly one signature")
	ErrDuplicateAttestor      = dErrors.New(dErrors.CodeValidation, "attestor ids must be distinct")
	ErrInvalidScore           = dErrors.New(dErrors.CodeValidation, "score must be at most 10000 bp")
	ErrNotFound               = dErrors.New(dErrors.CodeNotFound, "verification record not found")
	ErrNotInManualReview      = dErrors.New(dErrors.CodeConflict, "verification is not awaiting manual review")
)

// Record is the stored outcome of one attestation bundle.
type Record struct {
	AssetID      id.AssetID
	AssetType    id.AssetType
	Owner        id.AccountID
	Score        id.BasisPoints
	EvidenceHash string
	BundleDigest string
	ExpiresAt    time.Time
	Signatures   []string
	AttestorIDs  []id.AccountID
	Status       Status
	SubmittedBy  id.AccountID
	StatusReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// View is the read-time evaluation of a record.
type View struct {
	AssetID   id.AssetID
	Status    Status
	Verified  bool
	Score     id.BasisPoints
	ExpiresAt time.Time
	Exists    bool
}

// PendingView is returned for assets without a record.
func PendingView(assetID id.AssetID) View {
	return View{AssetID: assetID, Status: StatusPending}
}

// InitialStatus decides the status of a new submission under p.
func InitialStatus(p policy.Policy, score id.BasisPoints) Status {
	switch {
	case p.RequiresManualReview:
		return StatusManualReview
	case score >= p.MinScore:
		return StatusVerified
	default:
		return StatusPending
	}
}

// Evaluate derives the status visible at now. Revocation wins over expiry,
// and expiry wins over the stored status.
func (r *Record) Evaluate(now time.Time) View {
	v := View{
		AssetID:   r.AssetID,
		Score:     r.Score,
		ExpiresAt: r.ExpiresAt,
		Exists:    true,
	}
	switch {
	case r.Status == StatusRevoked:
		v.Status = StatusRevoked
	case now.After(r.ExpiresAt):
		v.Status = StatusExpired
	default:
		v.Status = r.Status
		v.Verified = r.Status == StatusVerified
	}
	return v
}

// CanReview checks the record awaits manual review.
func (r *Record) CanReview() error {
	if r.Status != StatusManualReview {
		return ErrNotInManualReview
	}
	return nil
}

// ApplyReview resolves a manual review.
func (r *Record) ApplyReview(approve bool, now time.Time) {
	if approve {
		r.Status = StatusVerified
	} else {
		r.Status = StatusRejected
	}
	r.UpdatedAt = now
}

// ApplyRevocation marks the record revoked. Revocation is terminal.
func (r *Record) ApplyRevocation(reason string, now time.Time) {
	r.Status = StatusRevoked
	r.StatusReason = reason
	r.UpdatedAt = now
}

// ComputeBundleDigest returns the hex SHA3-256 digest over the submitted
// bundle fields in a fixed, length-prefixed encoding.
func ComputeBundleDigest(r *Record) string {
	h := sha3.New256()
	writeField := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	var score [4]byte
	binary.BigEndian.PutUint32(score[:], uint32(r.Score))
	var expiry [8]byte
	binary.BigEndian.PutUint64(expiry[:], uint64(r.ExpiresAt.Unix()))

	writeField([]byte(r.AssetID))
	writeField([]byte(r.AssetType))
	writeField([]byte(r.Owner))
	writeField(score[:])
	writeField([]byte(r.EvidenceHash))
	writeField(expiry[:])
	for i := range r.AttestorIDs {
		writeField([]byte(r.AttestorIDs[i]))
		writeField([]byte(r.Signatures[i]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
