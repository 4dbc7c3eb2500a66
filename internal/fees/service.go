package fees

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/requestcontext"
)

var tracer = otel.Tracer("fees")

// ValidatorSet lists the attestors that share the validator pool.
type ValidatorSet interface {
	ActiveIDs(ctx context.Context) ([]id.AccountID, error)
}

// ValidatorSetFunc adapts a function to ValidatorSet. It lets the distributor
// and the attestor registry be wired to each other.
type ValidatorSetFunc func(ctx context.Context) ([]id.AccountID, error)

func (f ValidatorSetFunc) ActiveIDs(ctx context.Context) ([]id.AccountID, error) {
	return f(ctx)
}

// Store persists the fee ledger. See InMemoryStore for the error contract.
type Store interface {
	Load(ctx context.Context) (*Ledger, error)
	Execute(ctx context.Context, validate func(*Ledger) error, mutate func(*Ledger)) (*Ledger, error)
}

type Service struct {
	store      Store
	validators ValidatorSet
	logger     *slog.Logger
	metrics    *Metrics
	events     audit.Emitter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

func NewService(store Store, validators ValidatorSet, opts ...Option) *Service {
	s := &Service{store: store, validators: validators}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func noCheck(*Ledger) error { return nil }

// DistributeFees splits amount across the four pools. The validator share,
// plus any remainder carried from earlier distributions, is divided evenly
// among the currently active attestors.
func (s *Service) DistributeFees(ctx context.Context, amount decimal.Decimal) (Split, error) {
	ctx, span := tracer.Start(ctx, "Fees.Service.DistributeFees")
	defer span.End()

	if !amount.IsPositive() {
		return Split{}, ErrNoFees
	}
	var recipients []id.AccountID
	if s.validators != nil {
		var err error
		recipients, err = s.validators.ActiveIDs(ctx)
		if err != nil {
			span.RecordError(err)
			return Split{}, dErrors.Ensure(err, dErrors.CodeInternal, "failed to list validators")
		}
	}

	split := SplitFees(amount)
	if _, err := s.store.Execute(ctx, noCheck, func(l *Ledger) {
		l.Credit(split, recipients)
	}); err != nil {
		span.RecordError(err)
		return Split{}, dErrors.Ensure(err, dErrors.CodeInternal, "failed to record fee distribution")
	}

	if s.metrics != nil {
		s.metrics.ObserveSplit(split)
	}
	audit.Record(ctx, s.logger, s.events, audit.EventFeesDistributed, "fees",
		"amount", amount.String(),
		"treasury", split.Treasury.String(),
		"stakers", split.Stakers.String(),
		"insurance", split.Insurance.String(),
		"validators", split.Validators.String(),
		"validator_count", len(recipients),
	)
	return split, nil
}

// FundInsurance credits amount directly to the insurance pool. Slashed
// attestor stake arrives here.
func (s *Service) FundInsurance(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNoFees
	}
	if _, err := s.store.Execute(ctx, noCheck, func(l *Ledger) {
		l.Pools.Insurance = l.Pools.Insurance.Add(amount)
	}); err != nil {
		return dErrors.Ensure(err, dErrors.CodeInternal, "failed to fund insurance pool")
	}

	if s.metrics != nil {
		s.metrics.ObserveInsurance(amount.InexactFloat64())
	}
	s.logger.InfoContext(ctx, "insurance pool funded", "amount", amount.String())
	return nil
}

// ClaimValidatorRewards pays out and zeroes the caller's validator share.
func (s *Service) ClaimValidatorRewards(ctx context.Context) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "Fees.Service.ClaimValidatorRewards")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return decimal.Zero, ErrNoRewardsAvailable
	}

	var owed decimal.Decimal
	_, err := s.store.Execute(ctx,
		func(l *Ledger) error {
			owed = l.RewardOf(caller)
			if !owed.IsPositive() {
				return ErrNoRewardsAvailable
			}
			return nil
		},
		func(l *Ledger) {
			delete(l.Rewards, caller)
			l.Pools.Validators = l.Pools.Validators.Sub(owed)
		},
	)
	if err != nil {
		span.RecordError(err)
		return decimal.Zero, dErrors.Ensure(err, dErrors.CodeInternal, "failed to claim validator rewards")
	}

	if s.metrics != nil {
		s.metrics.ObserveClaim(owed.InexactFloat64())
	}
	audit.Record(ctx, s.logger, s.events, audit.EventFeesClaimed, caller.String(),
		"amount", owed.String(),
	)
	return owed, nil
}

// ValidatorRewards returns the unclaimed share of validator.
func (s *Service) ValidatorRewards(ctx context.Context, validator id.AccountID) (decimal.Decimal, error) {
	l, err := s.store.Load(ctx)
	if err != nil {
		return decimal.Zero, dErrors.Ensure(err, dErrors.CodeInternal, "failed to load validator rewards")
	}
	return l.RewardOf(validator), nil
}

// Pools returns a snapshot of the pool balances.
func (s *Service) Pools(ctx context.Context) (Pools, error) {
	l, err := s.store.Load(ctx)
	if err != nil {
		return Pools{}, dErrors.Ensure(err, dErrors.CodeInternal, "failed to load fee pools")
	}
	return l.Pools, nil
}
