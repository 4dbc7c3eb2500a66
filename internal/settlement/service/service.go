// Package service implements the SettlementEngine: buyer/seller escrow with
// delivery confirmation, disputes and fee-withholding release.
package service

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
	"trustcore/internal/settlement/metrics"
	"trustcore/internal/settlement/models"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
	"trustcore/pkg/requestcontext"
)

var tracer = otel.Tracer("settlement")

// Store persists settlements. See store.InMemoryStore for the error contract.
type Store interface {
	Create(ctx context.Context, st *models.Settlement) error
	FindByID(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error)
	ListByAsset(ctx context.Context, assetID id.AssetID) ([]*models.Settlement, error)
	Execute(ctx context.Context, settlementID id.SettlementID, validate func(*models.Settlement) error, mutate func(*models.Settlement)) (*models.Settlement, error)
}

// FeeCollector receives withheld settlement fees.
type FeeCollector interface {
	DistributeFees(ctx context.Context, amount decimal.Decimal) (fees.Split, error)
}

type Service struct {
	store   Store
	auth    authz.Authorizer
	feeBP   id.BasisPoints
	fees    FeeCollector
	tx      txcontext.Runner
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

// WithFeeCollector forwards withheld fees to collector.
func WithFeeCollector(collector FeeCollector) Option {
	return func(s *Service) {
		s.fees = collector
	}
}

// WithTransactor runs each release and its fee distribution as one unit of
// work on runner.
func WithTransactor(runner txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(st Store, auth authz.Authorizer, feeBP id.BasisPoints, opts ...Option) *Service {
	s := &Service{store: st, auth: auth, feeBP: feeBP}
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

// CreateRequest opens an escrow. The caller is the buyer and PaidAmount has
// already been transferred into custody.
type CreateRequest struct {
	AssetID          id.AssetID
	Seller           id.AccountID
	DeliveryDeadline time.Time
	TrackingHash     string
	PaidAmount       decimal.Decimal
}

// CreateSettlement opens an escrow in PENDING.
func (s *Service) CreateSettlement(ctx context.Context, req CreateRequest) (*models.Settlement, error) {
	ctx, span := tracer.Start(ctx, "Settlement.Service.CreateSettlement")
	defer span.End()

	buyer := requestcontext.Caller(ctx)
	if buyer.IsNil() {
		return nil, authz.ErrUnauthorized
	}
	now := requestcontext.Now(ctx)
	if err := models.ValidateOpen(buyer, req.Seller, req.PaidAmount, req.DeliveryDeadline, now); err != nil {
		return nil, err
	}
	if req.AssetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "asset id is required")
	}
	if req.Seller.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "seller is required")
	}

	st := models.NewSettlement(req.AssetID, buyer, req.Seller, req.PaidAmount, req.DeliveryDeadline, strings.TrimSpace(req.TrackingHash), now)
	if err := s.store.Create(ctx, st); err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open settlement")
	}

	if s.metrics != nil {
		s.metrics.ObserveOpened(st.Amount.InexactFloat64())
	}
	audit.Record(ctx, s.logger, s.events, audit.EventSettlementCreated, st.ID.String(),
		"asset_id", st.AssetID.String(),
		"buyer", buyer.String(),
		"seller", st.Seller.String(),
		"amount", st.Amount.String(),
		"delivery_deadline", st.DeliveryDeadline.Format(time.RFC3339),
	)
	return st, nil
}

// ConfirmDelivery appends a confirmation from the buyer, the seller or an
// oracle and advances the escrow accordingly.
func (s *Service) ConfirmDelivery(ctx context.Context, settlementID id.SettlementID, proofHash string) (*models.Settlement, error) {
	ctx, span := tracer.Start(ctx, "Settlement.Service.ConfirmDelivery")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return nil, authz.ErrUnauthorized
	}
	proofHash = strings.TrimSpace(proofHash)
	if proofHash == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "proof hash is required")
	}

	now := requestcontext.Now(ctx)
	var (
		role     models.Role
		previous models.Status
	)
	st, err := s.store.Execute(ctx, settlementID,
		func(x *models.Settlement) error {
			r, ok := x.RoleOf(caller)
			if !ok {
				if authz.Require(ctx, s.auth, caller, authz.CapabilityOracle) != nil {
					return models.ErrNotParticipant
				}
				r = models.RoleOracle
			}
			role = r
			return x.CanConfirm()
		},
		func(x *models.Settlement) {
			previous = x.Status
			x.ApplyConfirmation(caller, role, proofHash, now)
		},
	)
	if err != nil {
		span.RecordError(err)
		return nil, wrapSettlementErr(err)
	}

	if s.metrics != nil && st.Status != previous {
		s.metrics.ObserveTransition(string(st.Status))
	}
	audit.Record(ctx, s.logger, s.events, audit.EventSettlementConfirmed, st.ID.String(),
		"role", string(role),
		"proof_hash", proofHash,
		"status", string(st.Status),
		"confirmations", len(st.Confirmations),
	)
	return st, nil
}

// RaiseDispute moves a non-terminal escrow to DISPUTED. Buyer or seller only.
func (s *Service) RaiseDispute(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error) {
	ctx, span := tracer.Start(ctx, "Settlement.Service.RaiseDispute")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return nil, authz.ErrUnauthorized
	}
	now := requestcontext.Now(ctx)
	st, err := s.store.Execute(ctx, settlementID,
		func(x *models.Settlement) error {
			return x.CanDispute(caller)
		},
		func(x *models.Settlement) {
			x.ApplyDispute(now)
		},
	)
	if err != nil {
		span.RecordError(err)
		return nil, wrapSettlementErr(err)
	}

	if s.metrics != nil {
		s.metrics.ObserveTransition(string(models.StatusDisputed))
	}
	audit.Record(ctx, s.logger, s.events, audit.EventSettlementDisputed, st.ID.String(),
		"raised_by", caller.String(),
	)
	return st, nil
}

// Settle releases a DELIVERED escrow to the seller, withholding the
// settlement fee. Parties and the authority may settle. The release and the
// distribution of the withheld fee commit together or not at all.
func (s *Service) Settle(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error) {
	ctx, span := tracer.Start(ctx, "Settlement.Service.Settle")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return nil, authz.ErrUnauthorized
	}
	now := requestcontext.Now(ctx)
	var st *models.Settlement
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.store.Execute(ctx, settlementID,
			func(x *models.Settlement) error {
				if _, ok := x.RoleOf(caller); !ok && authz.Require(ctx, s.auth, caller, authz.CapabilityAuthority) != nil {
					return models.ErrNotParticipant
				}
				return x.CanSettle()
			},
			func(x *models.Settlement) {
				x.ApplySettle(s.feeBP, now)
			},
		)
		if err != nil {
			return err
		}
		if s.fees != nil && st.Fee.IsPositive() {
			if _, err := s.fees.DistributeFees(ctx, st.Fee); err != nil {
				return dErrors.Ensure(err, dErrors.CodeInternal, "failed to forward settlement fee")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrapSettlementErr(err)
	}

	if s.metrics != nil {
		s.metrics.ObserveSettled(st.Amount.InexactFloat64(), st.Fee.InexactFloat64())
	}
	audit.Record(ctx, s.logger, s.events, audit.EventSettlementSettled, st.ID.String(),
		"seller", st.Seller.String(),
		"payout", st.Payout.String(),
		"fee", st.Fee.String(),
	)
	return st, nil
}

// Get returns a settlement.
func (s *Service) Get(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error) {
	st, err := s.store.FindByID(ctx, settlementID)
	if err != nil {
		return nil, wrapSettlementErr(err)
	}
	return st, nil
}

// ListByAsset returns the settlements referencing an asset, oldest first.
func (s *Service) ListByAsset(ctx context.Context, assetID id.AssetID) ([]*models.Settlement, error) {
	list, err := s.store.ListByAsset(ctx, assetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list settlements")
	}
	return list, nil
}

func wrapSettlementErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.ErrNotFound
	}
	return dErrors.Ensure(err, dErrors.CodeInternal, "settlement operation failed")
}
