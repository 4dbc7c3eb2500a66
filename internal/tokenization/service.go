package tokenization

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"trustcore/internal/authz"
	"trustcore/internal/fees"
	"trustcore/internal/protection"
	vmodels "trustcore/internal/verification/models"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
	"trustcore/pkg/requestcontext"
)

var tracer = otel.Tracer("tokenization")

// VerificationReader evaluates an asset's verification status.
type VerificationReader interface {
	GetStatus(ctx context.Context, assetID id.AssetID) (vmodels.View, error)
}

// FeeCollector receives collected tokenization fees.
type FeeCollector interface {
	DistributeFees(ctx context.Context, amount decimal.Decimal) (fees.Split, error)
}

// ProtectionActivator starts the protection buffer for a new asset.
type ProtectionActivator interface {
	Activate(ctx context.Context, assetID id.AssetID, valuation decimal.Decimal) (protection.State, error)
}

// Store persists the catalog and the current fee. See InMemoryStore for the
// error contract.
type Store interface {
	Create(ctx context.Context, a *Asset) error
	FindByID(ctx context.Context, assetID id.AssetID) (*Asset, error)
	Count(ctx context.Context) (uint64, error)
	FeeBP(ctx context.Context) (id.BasisPoints, bool, error)
	SetFeeBP(ctx context.Context, bp id.BasisPoints) error
}

type Service struct {
	store         Store
	verifications VerificationReader
	auth          authz.Authorizer
	defaultFeeBP  id.BasisPoints
	fees          FeeCollector
	protection    ProtectionActivator
	tx            txcontext.Runner
	logger        *slog.Logger
	metrics       *Metrics
	events        audit.Emitter
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

// WithFeeCollector forwards collected fees to collector.
func WithFeeCollector(collector FeeCollector) Option {
	return func(s *Service) {
		s.fees = collector
	}
}

// WithProtection activates protection for every tokenized asset.
func WithProtection(activator ProtectionActivator) Option {
	return func(s *Service) {
		s.protection = activator
	}
}

// WithTransactor runs each admission as one unit of work on runner.
func WithTransactor(runner txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

// NewService builds the gate. feeBP applies until SetFee stores a new fee.
func NewService(store Store, verifications VerificationReader, auth authz.Authorizer, feeBP id.BasisPoints, opts ...Option) *Service {
	s := &Service{
		store:         store,
		verifications: verifications,
		auth:          auth,
		defaultFeeBP:  feeBP,
	}
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

// TokenizeRequest describes an asset to tokenize. PaidFee has already been
// transferred into custody.
type TokenizeRequest struct {
	AssetID      id.AssetID
	AssetType    id.AssetType
	Name         string
	Location     string
	TotalValue   decimal.Decimal
	TokenSupply  decimal.Decimal
	MaturityDate time.Time
	PaidFee      decimal.Decimal
}

// Tokenize admits a verified asset into the catalog, owned by the caller.
func (s *Service) Tokenize(ctx context.Context, req TokenizeRequest) (*Asset, error) {
	ctx, span := tracer.Start(ctx, "Tokenization.Service.Tokenize")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return nil, authz.ErrUnauthorized
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if !req.MaturityDate.IsZero() && !req.MaturityDate.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "maturity date must be in the future")
	}

	view, err := s.verifications.GetStatus(ctx, req.AssetID)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Ensure(err, dErrors.CodeInternal, "failed to read verification")
	}
	if view.Status == vmodels.StatusExpired {
		s.reject("expired")
		return nil, ErrVerificationExpired
	}
	if !view.Verified {
		s.reject("not_verified")
		return nil, ErrAssetNotVerified
	}

	asset := Asset{
		AssetID:      req.AssetID,
		Owner:        caller,
		AssetType:    req.AssetType,
		Name:         strings.TrimSpace(req.Name),
		Location:     strings.TrimSpace(req.Location),
		TotalValue:   req.TotalValue,
		TokenSupply:  req.TokenSupply,
		MaturityDate: req.MaturityDate,
		IsActive:     true,
		FeePaid:      req.PaidFee,
		TokenizedAt:  now,
	}

	// The catalog entry, the fee distribution and the protection activation
	// commit together or not at all.
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		feeBP, err := s.Fee(ctx)
		if err != nil {
			return err
		}
		if req.PaidFee.LessThan(RequiredFee(req.TotalValue, feeBP)) {
			s.reject("insufficient_fee")
			return ErrInsufficientFee
		}
		if err := s.store.Create(ctx, &asset); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return ErrAlreadyTokenized
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store asset")
		}
		if err := s.forwardFee(ctx, req.PaidFee); err != nil {
			return err
		}
		if s.protection != nil {
			if _, err := s.protection.Activate(ctx, req.AssetID, req.TotalValue); err != nil {
				return dErrors.Ensure(err, dErrors.CodeInternal, "failed to activate protection")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveTokenized(req.PaidFee.InexactFloat64())
	}
	audit.Record(ctx, s.logger, s.events, audit.EventAssetTokenized, req.AssetID.String(),
		"owner", caller.String(),
		"asset_type", req.AssetType.String(),
		"total_value", req.TotalValue.String(),
		"token_supply", req.TokenSupply.String(),
		"fee_paid", req.PaidFee.String(),
	)
	return &asset, nil
}

func validateRequest(req TokenizeRequest) error {
	if req.AssetID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "asset id is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "asset name is required")
	}
	if !req.TotalValue.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "total value must be positive")
	}
	if !req.TokenSupply.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "token supply must be positive")
	}
	if req.PaidFee.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "paid fee cannot be negative")
	}
	return nil
}

func (s *Service) forwardFee(ctx context.Context, fee decimal.Decimal) error {
	if s.fees == nil || !fee.IsPositive() {
		return nil
	}
	if _, err := s.fees.DistributeFees(ctx, fee); err != nil {
		return dErrors.Ensure(err, dErrors.CodeInternal, "failed to forward tokenization fee")
	}
	return nil
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.IncrementRejected(reason)
	}
}

// SetFee updates the tokenization fee. Authority only.
func (s *Service) SetFee(ctx context.Context, bp id.BasisPoints) error {
	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return err
	}
	if bp > MaxFeeBP {
		return ErrFeeTooHigh
	}
	previous, err := s.Fee(ctx)
	if err != nil {
		return err
	}
	if err := s.store.SetFeeBP(ctx, bp); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store tokenization fee")
	}

	audit.Record(ctx, s.logger, s.events, audit.EventTokenizationFeeSet, "tokenization",
		"fee_bp", int(bp),
		"previous_fee_bp", int(previous),
	)
	return nil
}

// Fee returns the current tokenization fee.
func (s *Service) Fee(ctx context.Context) (id.BasisPoints, error) {
	bp, ok, err := s.store.FeeBP(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tokenization fee")
	}
	if !ok {
		return s.defaultFeeBP, nil
	}
	return bp, nil
}

// GetAsset returns a tokenized asset.
func (s *Service) GetAsset(ctx context.Context, assetID id.AssetID) (*Asset, error) {
	a, err := s.store.FindByID(ctx, assetID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load asset")
	}
	return a, nil
}

// IsTokenized reports whether assetID is in the catalog.
func (s *Service) IsTokenized(ctx context.Context, assetID id.AssetID) (bool, error) {
	_, err := s.GetAsset(ctx, assetID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// TokenizedCount returns the number of tokenized assets.
func (s *Service) TokenizedCount(ctx context.Context) (uint64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count assets")
	}
	return n, nil
}
