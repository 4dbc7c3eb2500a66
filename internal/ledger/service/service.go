// Package service implements the StakeLedger: liquid balances, time-locked
// stake positions with tiered rewards, and the capped token supply.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"trustcore/internal/authz"
	"trustcore/internal/ledger/metrics"
	"trustcore/internal/ledger/models"
	"trustcore/internal/ledger/store"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/requestcontext"
)

var tracer = otel.Tracer("ledger")

// Service coordinates ledger mutations. Every mutation runs inside a single
// store transaction so balance changes are all-or-nothing.
type Service struct {
	store   store.Store
	auth    authz.Authorizer
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  audit.Emitter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

func New(st store.Store, auth authz.Authorizer, opts ...Option) *Service {
	s := &Service{store: st, auth: auth}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// UnstakeResult describes a completed withdrawal.
type UnstakeResult struct {
	Staker    id.AccountID
	Principal decimal.Decimal
	Reward    decimal.Decimal
	Payout    decimal.Decimal
}

// Stake locks amount of the caller's balance. An existing position is topped
// up: its earned reward is preserved and a new term starts with lock.
func (s *Service) Stake(ctx context.Context, amount decimal.Decimal, lock time.Duration) (*models.Position, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Service.Stake")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return nil, authz.ErrUnauthorized
	}
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if err := models.ValidateLockPeriod(lock); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var result models.Position
	err := s.store.Update(ctx, func(b store.Book) error {
		if b.Supply().Paused {
			return models.ErrPaused
		}
		balance := b.Balance(caller)
		if balance.LessThan(amount) {
			return models.ErrInsufficientBalance
		}
		pos, ok := b.Position(caller)
		if !ok {
			pos = models.Position{Staker: caller, Principal: decimal.Zero, AccruedReward: decimal.Zero}
		}
		pos.TopUp(amount, lock, now)
		b.SetBalance(caller, balance.Sub(amount))
		b.PutPosition(pos)
		result = pos
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrapLedgerErr(err)
	}

	span.SetAttributes(attribute.String("staker", caller.String()))
	s.observe(ctx, "stake")
	audit.Record(ctx, s.logger, s.events, audit.EventStaked, caller.String(),
		"amount", amount.String(),
		"principal", result.Principal.String(),
		"lock_days", int64(lock/models.Day),
	)
	return &result, nil
}

// Unstake withdraws the caller's position once unlocked, paying principal
// plus reward. Reward minting is capped by the remaining supply headroom.
func (s *Service) Unstake(ctx context.Context) (*UnstakeResult, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Service.Unstake")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return nil, authz.ErrUnauthorized
	}

	now := requestcontext.Now(ctx)
	var result UnstakeResult
	err := s.store.Update(ctx, func(b store.Book) error {
		pos, ok := b.Position(caller)
		if !ok || pos.IsZero() {
			return models.ErrNoPosition
		}
		if pos.IsLocked(now) {
			return models.ErrStillLocked
		}

		supply := b.Supply()
		reward := pos.Reward(now)
		if headroom := supply.Headroom(); reward.GreaterThan(headroom) {
			reward = headroom
		}
		supply.Total = supply.Total.Add(reward)
		payout := pos.Principal.Add(reward)

		b.SetSupply(supply)
		b.SetBalance(caller, b.Balance(caller).Add(payout))
		b.DeletePosition(caller)

		result = UnstakeResult{Staker: caller, Principal: pos.Principal, Reward: reward, Payout: payout}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrapLedgerErr(err)
	}

	if s.metrics != nil {
		s.metrics.AddRewardsMinted(result.Reward.InexactFloat64())
	}
	s.observe(ctx, "unstake")
	audit.Record(ctx, s.logger, s.events, audit.EventUnstaked, caller.String(),
		"principal", result.Principal.String(),
		"reward", result.Reward.String(),
	)
	return &result, nil
}

// CalculateReward returns the reward owed to staker right now. Unknown
// stakers earn zero.
func (s *Service) CalculateReward(ctx context.Context, staker id.AccountID) (decimal.Decimal, error) {
	now := requestcontext.Now(ctx)
	reward := decimal.Zero
	err := s.store.View(ctx, func(b store.Book) error {
		if pos, ok := b.Position(staker); ok {
			reward = pos.Reward(now)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, wrapLedgerErr(err)
	}
	return reward, nil
}

// PositionOf returns the staker's position, or a zero position.
func (s *Service) PositionOf(ctx context.Context, staker id.AccountID) (models.Position, error) {
	pos := models.Position{Staker: staker}
	err := s.store.View(ctx, func(b store.Book) error {
		if p, ok := b.Position(staker); ok {
			pos = p
		}
		return nil
	})
	if err != nil {
		return models.Position{}, wrapLedgerErr(err)
	}
	return pos, nil
}

// BalanceOf returns the liquid balance of account.
func (s *Service) BalanceOf(ctx context.Context, account id.AccountID) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.store.View(ctx, func(b store.Book) error {
		balance = b.Balance(account)
		return nil
	})
	if err != nil {
		return decimal.Zero, wrapLedgerErr(err)
	}
	return balance, nil
}

// Supply returns the current supply snapshot.
func (s *Service) Supply(ctx context.Context) (models.Supply, error) {
	var supply models.Supply
	err := s.store.View(ctx, func(b store.Book) error {
		supply = b.Supply()
		return nil
	})
	if err != nil {
		return models.Supply{}, wrapLedgerErr(err)
	}
	return supply, nil
}

// TotalStaked returns the principal locked across all positions.
func (s *Service) TotalStaked(ctx context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.store.View(ctx, func(b store.Book) error {
		total = b.TotalStaked()
		return nil
	})
	if err != nil {
		return decimal.Zero, wrapLedgerErr(err)
	}
	return total, nil
}

// Transfer moves amount of the caller's liquid balance to another account.
func (s *Service) Transfer(ctx context.Context, to id.AccountID, amount decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "Ledger.Service.Transfer")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return authz.ErrUnauthorized
	}
	if to.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "recipient is required")
	}
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}

	err := s.store.Update(ctx, func(b store.Book) error {
		from := b.Balance(caller)
		if from.LessThan(amount) {
			return models.ErrInsufficientBalance
		}
		b.SetBalance(caller, from.Sub(amount))
		b.SetBalance(to, b.Balance(to).Add(amount))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return wrapLedgerErr(err)
	}
	s.observe(ctx, "transfer")
	return nil
}

// Mint issues new tokens to an account. Authority only.
func (s *Service) Mint(ctx context.Context, to id.AccountID, amount decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "Ledger.Service.Mint")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return err
	}
	if to.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "recipient is required")
	}
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}

	err := s.store.Update(ctx, func(b store.Book) error {
		supply := b.Supply()
		if !supply.CanMint(amount) {
			return models.ErrExceedsMaxSupply
		}
		supply.Total = supply.Total.Add(amount)
		b.SetSupply(supply)
		b.SetBalance(to, b.Balance(to).Add(amount))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return wrapLedgerErr(err)
	}
	s.observe(ctx, "mint")
	audit.Record(ctx, s.logger, s.events, audit.EventMinted, to.String(), "amount", amount.String())
	return nil
}

// Burn destroys tokens from an account's liquid balance. Authority only.
func (s *Service) Burn(ctx context.Context, from id.AccountID, amount decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "Ledger.Service.Burn")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}

	err := s.store.Update(ctx, func(b store.Book) error {
		balance := b.Balance(from)
		if balance.LessThan(amount) {
			return models.ErrInsufficientBalance
		}
		supply := b.Supply()
		supply.Total = supply.Total.Sub(amount)
		b.SetSupply(supply)
		b.SetBalance(from, balance.Sub(amount))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return wrapLedgerErr(err)
	}
	s.observe(ctx, "burn")
	audit.Record(ctx, s.logger, s.events, audit.EventBurned, from.String(), "amount", amount.String())
	return nil
}

// Pause blocks new stakes. Authority only.
func (s *Service) Pause(ctx context.Context) error {
	return s.setPaused(ctx, true)
}

// Unpause re-enables staking. Authority only.
func (s *Service) Unpause(ctx context.Context) error {
	return s.setPaused(ctx, false)
}

func (s *Service) setPaused(ctx context.Context, paused bool) error {
	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return err
	}
	err := s.store.Update(ctx, func(b store.Book) error {
		supply := b.Supply()
		supply.Paused = paused
		b.SetSupply(supply)
		return nil
	})
	if err != nil {
		return wrapLedgerErr(err)
	}
	event := audit.EventUnpaused
	if paused {
		event = audit.EventPaused
	}
	audit.Record(ctx, s.logger, s.events, event, "ledger")
	return nil
}

func (s *Service) observe(ctx context.Context, op string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrementOp(op)
	var staked, total decimal.Decimal
	_ = s.store.View(ctx, func(b store.Book) error {
		staked = b.TotalStaked()
		total = b.Supply().Total
		return nil
	})
	s.metrics.SetTotals(staked.InexactFloat64(), total.InexactFloat64())
}

func wrapLedgerErr(err error) error {
	return dErrors.Ensure(err, dErrors.CodeInternal, "ledger operation failed")
}
