// Package models holds the StakeLedger entities and their pure rules:
// lock-period validation, APY tier selection and reward accrual.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

const (
	Day            = 24 * time.Hour
	MinLockPeriod  = 30 * Day
	MaxLockPeriod  = 365 * Day
	SecondsPerYear = 365 * 24 * 60 * 60
)

// Tier maps a minimum lock period to an annualized yield.
type Tier struct {
	MinLock time.Duration
	APY     id.BasisPoints
}

// Tiers is ordered from the longest lock down.
var Tiers = []Tier{
	{MinLock: 365 * Day, APY: 2500},
	{MinLock: 180 * Day, APY: 1500},
	{MinLock: 90 * Day, APY: 1000},
	{MinLock: 30 * Day, APY: 500},
}

var (
	ErrInvalidAmount       = dErrors.New(dErrors.CodeValidation, "amount must be greater than zero")
	ErrInvalidLockPeriod   = dErrors.New(dErrors.CodeValidation, "lock period must be between 30 and 365 days")
	ErrStillLocked         = dErrors.New(dErrors.CodeConflict, "stake is still locked")
	ErrNoPosition          = dErrors.New(dErrors.CodeNotFound, "no stake position")
	ErrInsufficientBalance = dErrors.New(dErrors.CodeRuleViolation, "insufficient balance")
	ErrExceedsMaxSupply    = dErrors.New(dErrors.CodeRuleViolation, "amount exceeds maximum token supply")
	ErrPaused              = dErrors.New(dErrors.CodeConflict, "staking is paused")
)

// ValidateLockPeriod accepts lock periods in [30d, 365d].
func ValidateLockPeriod(lock time.Duration) error {
	if lock < MinLockPeriod || lock > MaxLockPeriod {
		return ErrInvalidLockPeriod
	}
	return nil
}

// APYFor returns the yield of the highest tier whose threshold lock is met.
// Locks shorter than the lowest tier earn nothing.
func APYFor(lock time.Duration) id.BasisPoints {
	for _, t := range Tiers {
		if lock >= t.MinLock {
			return t.APY
		}
	}
	return 0
}

// Position is a staker's time-locked principal.
type Position struct {
	Staker     id.AccountID
	Principal  decimal.Decimal
	LockPeriod time.Duration
	StartedAt  time.Time
	// AccruedReward carries reward earned under earlier terms of the
	// position, before a top-up restarted the clock.
	AccruedReward decimal.Decimal
}

// UnlocksAt is the first instant at which the position may be withdrawn.
func (p Position) UnlocksAt() time.Time {
	return p.StartedAt.Add(p.LockPeriod)
}

// IsLocked reports whether now precedes the unlock time.
func (p Position) IsLocked(now time.Time) bool {
	return now.Before(p.UnlocksAt())
}

// IsZero reports whether the position holds nothing.
func (p Position) IsZero() bool {
	return !p.Principal.IsPositive() && !p.AccruedReward.IsPositive()
}

// Reward returns the reward owed at now:
// accrued + floor(principal * apy * elapsed / (10000 * secondsPerYear)).
// Elapsed time before StartedAt counts as zero, so the reward is never negative.
func (p Position) Reward(now time.Time) decimal.Decimal {
	return p.AccruedReward.Add(p.currentTermReward(now))
}

func (p Position) currentTermReward(now time.Time) decimal.Decimal {
	elapsed := int64(now.Sub(p.StartedAt) / time.Second)
	if elapsed <= 0 || !p.Principal.IsPositive() {
		return decimal.Zero
	}
	apy := APYFor(p.LockPeriod)
	num := p.Principal.Mul(apy.Decimal()).Mul(decimal.NewFromInt(elapsed))
	den := decimal.NewFromInt(int64(id.BasisPointsDenominator) * SecondsPerYear)
	return num.Div(den).Floor()
}

// TopUp adds amount to the position. Reward earned so far is folded into
// AccruedReward and a new term starts at now with the given lock period.
func (p *Position) TopUp(amount decimal.Decimal, lock time.Duration, now time.Time) {
	p.AccruedReward = p.AccruedReward.Add(p.currentTermReward(now))
	p.Principal = p.Principal.Add(amount)
	p.LockPeriod = lock
	p.StartedAt = now
}

// Supply tracks issued tokens against the hard cap.
type Supply struct {
	Total  decimal.Decimal
	Max    decimal.Decimal
	Paused bool
}

// Headroom is the amount that can still be minted.
func (s Supply) Headroom() decimal.Decimal {
	h := s.Max.Sub(s.Total)
	if h.IsNegative() {
		return decimal.Zero
	}
	return h
}

// CanMint reports whether amount fits under the cap.
func (s Supply) CanMint(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(s.Headroom())
}
