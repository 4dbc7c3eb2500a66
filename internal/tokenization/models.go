// Package tokenization implements the TokenizationGate: assets enter the
// tokenized catalog only with a current verification and a sufficient fee.
package tokenization

import (
	"time"

	"github.com/shopspring/decimal"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

// MaxFeeBP caps the ad-valorem tokenization fee at 10%.
const MaxFeeBP id.BasisPoints = 1000

var (
	ErrAssetNotVerified    = dErrors.New(dErrors.CodeRuleViolation, "asset is not verified")
	ErrVerificationExpired = dErrors.New(dErrors.CodeRuleViolation, "asset verification has expired")
	ErrInsufficientFee     = dErrors.New(dErrors.CodeRuleViolation, "paid fee is below the tokenization fee")
	ErrFeeTooHigh          = dErrors.New(dErrors.CodeValidation, "tokenization fee cannot exceed 1000 bp")
	ErrAlreadyTokenized    = dErrors.New(dErrors.CodeConflict, "asset is already tokenized")
	ErrNotFound            = dErrors.New(dErrors.CodeNotFound, "asset not found")
)

// Asset is a tokenized real-world asset. It is immutable once created.
type Asset struct {
	AssetID      id.AssetID
	Owner        id.AccountID
	AssetType    id.AssetType
	Name         string
	Location     string
	TotalValue   decimal.Decimal
	TokenSupply  decimal.Decimal
	MaturityDate time.Time
	IsActive     bool
	FeePaid      decimal.Decimal
	TokenizedAt  time.Time
}

// RequiredFee returns totalValue * feeBP / 10000, floored.
func RequiredFee(totalValue decimal.Decimal, feeBP id.BasisPoints) decimal.Decimal {
	return feeBP.Of(totalValue)
}
