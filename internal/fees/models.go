// Package fees implements the FeeDistributor: a fixed 40/30/20/10 split of
// protocol fees into treasury, staker, insurance and validator pools.
package fees

import (
	"github.com/shopspring/decimal"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

// Allocation shares in basis points. They sum to 10000.
const (
	TreasuryShare  id.BasisPoints = 4000
	StakerShare    id.BasisPoints = 3000
	InsuranceShare id.BasisPoints = 2000
	ValidatorShare id.BasisPoints = 1000
)

var (
	ErrNoFees             = dErrors.New(dErrors.CodeRuleViolation, "fee amount must be positive")
	ErrNoRewardsAvailable = dErrors.New(dErrors.CodeRuleViolation, "no validator rewards available")
)

// Pools is a snapshot of the accumulated allocations. Validators is the
// unclaimed validator balance, including any undivided remainder.
type Pools struct {
	Treasury   decimal.Decimal
	Stakers    decimal.Decimal
	Insurance  decimal.Decimal
	Validators decimal.Decimal
}

// Split is one distribution broken down by pool.
type Split struct {
	Treasury   decimal.Decimal
	Stakers    decimal.Decimal
	Insurance  decimal.Decimal
	Validators decimal.Decimal
}

// SplitFees floors every non-treasury share; the treasury takes the rest so
// the parts always sum to amount.
func SplitFees(amount decimal.Decimal) Split {
	s := Split{
		Stakers:    StakerShare.Of(amount),
		Insurance:  InsuranceShare.Of(amount),
		Validators: ValidatorShare.Of(amount),
	}
	s.Treasury = amount.Sub(s.Stakers).Sub(s.Insurance).Sub(s.Validators)
	return s
}

// divideEvenly splits amount across n recipients, returning the per-recipient
// share and the remainder.
func divideEvenly(amount decimal.Decimal, n int) (share, remainder decimal.Decimal) {
	if n <= 0 {
		return decimal.Zero, amount
	}
	share = amount.Div(decimal.NewFromInt(int64(n))).Floor()
	remainder = amount.Sub(share.Mul(decimal.NewFromInt(int64(n))))
	return share, remainder
}

// Ledger is the distributor's persisted state: pool balances, the validator
// remainder not yet divisible, and each validator's unclaimed share.
type Ledger struct {
	Pools   Pools
	Carry   decimal.Decimal
	Rewards map[id.AccountID]decimal.Decimal
}

// NewLedger returns an empty ledger.
func NewLedger() Ledger {
	return Ledger{
		Pools: Pools{
			Treasury:   decimal.Zero,
			Stakers:    decimal.Zero,
			Insurance:  decimal.Zero,
			Validators: decimal.Zero,
		},
		Carry:   decimal.Zero,
		Rewards: make(map[id.AccountID]decimal.Decimal),
	}
}

// RewardOf returns the unclaimed share of validator.
func (l *Ledger) RewardOf(validator id.AccountID) decimal.Decimal {
	if r, ok := l.Rewards[validator]; ok {
		return r
	}
	return decimal.Zero
}

// Credit adds split to the pools and divides the validator share, plus the
// carried remainder, evenly among recipients.
func (l *Ledger) Credit(split Split, recipients []id.AccountID) {
	l.Pools.Treasury = l.Pools.Treasury.Add(split.Treasury)
	l.Pools.Stakers = l.Pools.Stakers.Add(split.Stakers)
	l.Pools.Insurance = l.Pools.Insurance.Add(split.Insurance)
	l.Pools.Validators = l.Pools.Validators.Add(split.Validators)
	share, remainder := divideEvenly(l.Carry.Add(split.Validators), len(recipients))
	if share.IsPositive() {
		for _, v := range recipients {
			l.Rewards[v] = l.RewardOf(v).Add(share)
		}
	}
	l.Carry = remainder
}

func (l Ledger) clone() Ledger {
	rewards := make(map[id.AccountID]decimal.Decimal, len(l.Rewards))
	for k, v := range l.Rewards {
		rewards[k] = v
	}
	l.Rewards = rewards
	return l
}
