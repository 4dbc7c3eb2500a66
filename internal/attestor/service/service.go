// Package service implements the AttestorRegistry: stake-backed attestor
// registration, reputation accounting and slashing.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"trustcore/internal/attestor/metrics"
	"trustcore/internal/attestor/models"
	"trustcore/internal/authz"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
	"trustcore/pkg/requestcontext"
)

var tracer = otel.Tracer("attestor")

// Store persists attestors. See store.InMemoryStore for the error contract.
type Store interface {
	Create(ctx context.Context, a *models.Attestor) error
	FindByID(ctx context.Context, attestorID id.AccountID) (*models.Attestor, error)
	ListActive(ctx context.Context) ([]*models.Attestor, error)
	Execute(ctx context.Context, attestorID id.AccountID, validate func(*models.Attestor) error, mutate func(*models.Attestor)) (*models.Attestor, error)
}

// InsurancePool receives slashed stake.
type InsurancePool interface {
	FundInsurance(ctx context.Context, amount decimal.Decimal) error
}

type Service struct {
	store     Store
	auth      authz.Authorizer
	minStake  decimal.Decimal
	insurance InsurancePool
	tx        txcontext.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	events    audit.Emitter
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

// WithInsurancePool forwards slashed stake to pool.
func WithInsurancePool(pool InsurancePool) Option {
	return func(s *Service) {
		s.insurance = pool
	}
}

// WithTransactor runs each slash and its insurance credit as one unit of
// work on runner.
func WithTransactor(runner txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(st Store, auth authz.Authorizer, minStake decimal.Decimal, opts ...Option) *Service {
	s := &Service{store: st, auth: auth, minStake: minStake}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tx == nil {
		s.tx = txcontext.NewMemory()
	}
	return s
}

// RegisterRequest carries registration input.
type RegisterRequest struct {
	ID               id.AccountID
	OrganizationName string
	Country          string
	RequestedStake   decimal.Decimal
	PaidValue        decimal.Decimal
}

// RegisterResult is the new attestor plus any overpayment to refund.
type RegisterResult struct {
	Attestor *models.Attestor
	Refund   decimal.Decimal
}

// Register admits a new attestor staking RequestedStake. Registrar only.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	ctx, span := tracer.Start(ctx, "Attestor.Service.Register")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityRegistrar); err != nil {
		return nil, err
	}
	if req.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attestor id is required")
	}
	org := strings.TrimSpace(req.OrganizationName)
	if org == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "organization name is required")
	}
	if err := models.ValidateStake(req.RequestedStake, req.PaidValue, s.minStake); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	attestor := models.NewAttestor(req.ID, org, strings.TrimSpace(req.Country), req.RequestedStake, now)
	if err := s.store.Create(ctx, attestor); err != nil {
		span.RecordError(err)
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, models.ErrAlreadyRegistered
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register attestor")
	}

	if s.metrics != nil {
		s.metrics.IncrementRegistered()
	}
	refund := req.PaidValue.Sub(req.RequestedStake)
	audit.Record(ctx, s.logger, s.events, audit.EventAttestorRegistered, req.ID.String(),
		"organization", org,
		"country", attestor.Country,
		"stake", attestor.Stake.String(),
		"refund", refund.String(),
	)
	return &RegisterResult{Attestor: attestor, Refund: refund}, nil
}

// SlashResult describes an applied slash.
type SlashResult struct {
	Attestor *models.Attestor
	Outcome  models.SlashOutcome
}

// Slash penalizes an active attestor. Authority only. The slash and the
// insurance credit of the removed stake commit together or not at all.
func (s *Service) Slash(ctx context.Context, attestorID id.AccountID, reason string) (*SlashResult, error) {
	ctx, span := tracer.Start(ctx, "Attestor.Service.Slash")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		attestor *models.Attestor
		outcome  models.SlashOutcome
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		attestor, err = s.store.Execute(ctx, attestorID,
			func(a *models.Attestor) error {
				return a.CanSlash()
			},
			func(a *models.Attestor) {
				outcome = a.ApplySlash(s.minStake, now)
			},
		)
		if err != nil {
			return err
		}
		if s.insurance != nil && outcome.Slashed.IsPositive() {
			if err := s.insurance.FundInsurance(ctx, outcome.Slashed); err != nil {
				return dErrors.Ensure(err, dErrors.CodeInternal, "failed to forward slashed stake to insurance pool")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrapAttestorErr(err)
	}

	if s.metrics != nil {
		s.metrics.ObserveSlash(outcome.Slashed.InexactFloat64(), outcome.Deactivated)
	}
	audit.Record(ctx, s.logger, s.events, audit.EventAttestorSlashed, attestorID.String(),
		"reason", reason,
		"slashed", outcome.Slashed.String(),
		"stake", attestor.Stake.String(),
		"reputation", int(attestor.Reputation),
	)
	if outcome.Deactivated {
		audit.Record(ctx, s.logger, s.events, audit.EventAttestorDeactivated, attestorID.String(),
			"consecutive_slashes", attestor.ConsecutiveSlashes,
		)
	}
	return &SlashResult{Attestor: attestor, Outcome: outcome}, nil
}

// RecordAttestation records an externally adjudicated attestation outcome.
// Authority only.
func (s *Service) RecordAttestation(ctx context.Context, attestorID id.AccountID, wasCorrect bool) (*models.Attestor, error) {
	ctx, span := tracer.Start(ctx, "Attestor.Service.RecordAttestation")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	attestor, err := s.store.Execute(ctx, attestorID,
		func(*models.Attestor) error { return nil },
		func(a *models.Attestor) {
			a.RecordAttestation(wasCorrect, now)
		},
	)
	if err != nil {
		span.RecordError(err)
		return nil, wrapAttestorErr(err)
	}
	audit.Record(ctx, s.logger, s.events, audit.EventAttestationRecorded, attestorID.String(),
		"correct", wasCorrect,
		"reputation", int(attestor.Reputation),
	)
	return attestor, nil
}

// Reactivate restores an inactive attestor after a stake top-up. Authority only.
func (s *Service) Reactivate(ctx context.Context, attestorID id.AccountID, topUp decimal.Decimal) (*models.Attestor, error) {
	ctx, span := tracer.Start(ctx, "Attestor.Service.Reactivate")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return nil, err
	}
	if topUp.IsNegative() {
		return nil, dErrors.New(dErrors.CodeValidation, "top-up cannot be negative")
	}

	now := requestcontext.Now(ctx)
	attestor, err := s.store.Execute(ctx, attestorID,
		func(a *models.Attestor) error {
			return a.CanReactivate(topUp, s.minStake)
		},
		func(a *models.Attestor) {
			a.ApplyReactivation(topUp, now)
		},
	)
	if err != nil {
		span.RecordError(err)
		return nil, wrapAttestorErr(err)
	}
	audit.Record(ctx, s.logger, s.events, audit.EventAttestorReactivated, attestorID.String(),
		"stake", attestor.Stake.String(),
	)
	return attestor, nil
}

// Get returns the attestor, or a zero-valued inactive attestor for unknown ids.
func (s *Service) Get(ctx context.Context, attestorID id.AccountID) (models.Attestor, error) {
	a, err := s.store.FindByID(ctx, attestorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Attestor{}, nil
		}
		return models.Attestor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attestor")
	}
	return *a, nil
}

// IsActive reports whether the attestor exists and is active.
func (s *Service) IsActive(ctx context.Context, attestorID id.AccountID) (bool, error) {
	a, err := s.Get(ctx, attestorID)
	if err != nil {
		return false, err
	}
	return a.Active, nil
}

// ListActive returns all active attestors ordered by id.
func (s *Service) ListActive(ctx context.Context) ([]*models.Attestor, error) {
	list, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list attestors")
	}
	return list, nil
}

// ActiveIDs returns the ids of all active attestors.
func (s *Service) ActiveIDs(ctx context.Context) ([]id.AccountID, error) {
	list, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]id.AccountID, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	return ids, nil
}

func wrapAttestorErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.ErrNotFound
	}
	return dErrors.Ensure(err, dErrors.CodeInternal, "attestor operation failed")
}
