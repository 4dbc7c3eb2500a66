// Package policy holds per-asset-type verification requirements.
package policy

import (
	"time"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

// Policy is the verification requirement for one asset type. A type with no
// stored policy reads as the zero Policy.
type Policy struct {
	AssetType            id.AssetType
	MinScore             id.BasisPoints
	TTL                  time.Duration
	RequiredAttestors    uint32
	RequiresManualReview bool
	UpdatedAt            time.Time
}

// IsZero reports whether p is the all-zero default.
func (p Policy) IsZero() bool {
	return p.MinScore == 0 && p.TTL == 0 && p.RequiredAttestors == 0 && !p.RequiresManualReview
}

// Validate checks a policy before it is stored.
func (p Policy) Validate() error {
	if p.AssetType.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "asset type is required")
	}
	if !p.MinScore.Valid() {
		return dErrors.New(dErrors.CodeValidation, "min score must be at most 10000 bp")
	}
	if p.TTL < 0 {
		return dErrors.New(dErrors.CodeValidation, "ttl cannot be negative")
	}
	if p.RequiredAttestors < 1 {
		return dErrors.New(dErrors.CodeValidation, "at least one attestor must be required")
	}
	return nil
}
