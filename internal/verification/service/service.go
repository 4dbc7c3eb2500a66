// Package service implements the VerificationRegistry: policy-gated,
// multi-attestor verification of assets with lazy expiry.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"trustcore/internal/authz"
	"trustcore/internal/policy"
	"trustcore/internal/verification/metrics"
	"trustcore/internal/verification/models"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

var tracer = otel.Tracer("verification")

// maxParallelLookups bounds concurrent attestor activity lookups per submit.
const maxParallelLookups = 8

// Store persists verification records. See store.InMemoryStore for the
// error contract.
type Store interface {
	Create(ctx context.Context, r *models.Record) error
	FindByAssetID(ctx context.Context, assetID id.AssetID) (*models.Record, error)
	Execute(ctx context.Context, assetID id.AssetID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)
}

// PolicyReader resolves the policy for an asset type.
type PolicyReader interface {
	GetPolicy(ctx context.Context, assetType id.AssetType) (policy.Policy, error)
}

// AttestorChecker reports attestor activity. Unknown attestors are inactive.
type AttestorChecker interface {
	IsActive(ctx context.Context, attestorID id.AccountID) (bool, error)
}

type Service struct {
	store     Store
	policies  PolicyReader
	attestors AttestorChecker
	auth      authz.Authorizer
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

func New(st Store, policies PolicyReader, attestors AttestorChecker, auth authz.Authorizer, opts ...Option) *Service {
	s := &Service{store: st, policies: policies, attestors: attestors, auth: auth}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SubmitRequest is one attestation bundle. A zero ExpiresAt defaults to
// now plus the asset type's policy TTL.
type SubmitRequest struct {
	AssetID      id.AssetID
	AssetType    id.AssetType
	Owner        id.AccountID
	Score        id.BasisPoints
	EvidenceHash string
	ExpiresAt    time.Time
	Signatures   []string
	AttestorIDs  []id.AccountID
}

// Submit records a new verification. Submitter only.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Record, error) {
	ctx, span := tracer.Start(ctx, "Verification.Service.Submit")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if err := authz.Require(ctx, s.auth, caller, authz.CapabilitySubmitter); err != nil {
		return nil, err
	}
	if err := validateSubject(req); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByAssetID(ctx, req.AssetID); err == nil {
		return nil, models.ErrDuplicateVerification
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}

	p, err := s.policies.GetPolicy(ctx, req.AssetType)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Ensure(err, dErrors.CodeInternal, "failed to resolve policy")
	}
	if uint32(len(req.AttestorIDs)) < p.RequiredAttestors {
		return nil, models.ErrInsufficientSignatures
	}
	if err := validateBundle(req); err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, req.AttestorIDs); err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := requestcontext.Now(ctx)
	// A past expiry is stored as given and reads back as EXPIRED.
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(p.TTL)
	}

	record := &models.Record{
		AssetID:      req.AssetID,
		AssetType:    req.AssetType,
		Owner:        req.Owner,
		Score:        req.Score,
		EvidenceHash: req.EvidenceHash,
		ExpiresAt:    expiresAt,
		Signatures:   append([]string(nil), req.Signatures...),
		AttestorIDs:  append([]id.AccountID(nil), req.AttestorIDs...),
		Status:       models.InitialStatus(p, req.Score),
		SubmittedBy:  caller,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	record.BundleDigest = models.ComputeBundleDigest(record)

	if err := s.store.Create(ctx, record); err != nil {
		span.RecordError(err)
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, models.ErrDuplicateVerification
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification")
	}

	if s.metrics != nil {
		s.metrics.IncrementSubmission(string(record.Status))
	}
	audit.Record(ctx, s.logger, s.events, audit.EventVerificationSubmitted, req.AssetID.String(),
		"asset_type", req.AssetType.String(),
		"owner", req.Owner.String(),
		"score", int(req.Score),
		"status", string(record.Status),
		"attestors", len(record.AttestorIDs),
		"bundle_digest", record.BundleDigest,
	)
	return record, nil
}

func validateSubject(req SubmitRequest) error {
	if req.AssetID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "asset id is required")
	}
	if req.AssetType.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "asset type is required")
	}
	if req.Owner.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "owner is required")
	}
	return nil
}

func validateBundle(req SubmitRequest) error {
	if !req.Score.Valid() {
		return models.ErrInvalidScore
	}
	if len(req.Signatures) != len(req.AttestorIDs) {
		return models.ErrSignatureMismatch
	}
	seen := make(map[id.AccountID]struct{}, len(req.AttestorIDs))
	for i, attestorID := range req.AttestorIDs {
		if attestorID.IsNil() || strings.TrimSpace(req.Signatures[i]) == "" {
			return models.ErrSignatureMismatch
		}
		if _, dup := seen[attestorID]; dup {
			return models.ErrDuplicateAttestor
		}
		seen[attestorID] = struct{}{}
	}
	return nil
}

// requireActive fails with ErrInactiveAttestor if any attestor is inactive.
func (s *Service) requireActive(ctx context.Context, attestorIDs []id.AccountID) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for _, attestorID := range attestorIDs {
		g.Go(func() error {
			active, err := s.attestors.IsActive(gctx, attestorID)
			if err != nil {
				return dErrors.Ensure(err, dErrors.CodeInternal, "failed to check attestor")
			}
			if !active {
				return models.ErrInactiveAttestor
			}
			return nil
		})
	}
	return g.Wait()
}

// GetStatus evaluates the asset's verification at the request time. Assets
// without a record read as PENDING and unverified.
func (s *Service) GetStatus(ctx context.Context, assetID id.AssetID) (models.View, error) {
	r, err := s.store.FindByAssetID(ctx, assetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.PendingView(assetID), nil
		}
		return models.View{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}
	return r.Evaluate(requestcontext.Now(ctx)), nil
}

// Get returns the stored record.
func (s *Service) Get(ctx context.Context, assetID id.AssetID) (*models.Record, error) {
	r, err := s.store.FindByAssetID(ctx, assetID)
	if err != nil {
		return nil, wrapVerificationErr(err)
	}
	return r, nil
}

// Review resolves a MANUAL_REVIEW record. Authority only.
func (s *Service) Review(ctx context.Context, assetID id.AssetID, approve bool) (*models.Record, error) {
	ctx, span := tracer.Start(ctx, "Verification.Service.Review")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	record, err := s.store.Execute(ctx, assetID,
		func(r *models.Record) error {
			return r.CanReview()
		},
		func(r *models.Record) {
			r.ApplyReview(approve, now)
		},
	)
	if err != nil {
		span.RecordError(err)
		return nil, wrapVerificationErr(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementReview(approve)
	}
	audit.Record(ctx, s.logger, s.events, audit.EventVerificationReviewed, assetID.String(),
		"approved", approve,
		"status", string(record.Status),
	)
	return record, nil
}

// Revoke marks the record REVOKED from any state. Authority only.
func (s *Service) Revoke(ctx context.Context, assetID id.AssetID, reason string) (*models.Record, error) {
	ctx, span := tracer.Start(ctx, "Verification.Service.Revoke")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	var previous models.Status
	record, err := s.store.Execute(ctx, assetID,
		func(*models.Record) error { return nil },
		func(r *models.Record) {
			previous = r.Status
			r.ApplyRevocation(reason, now)
		},
	)
	if err != nil {
		span.RecordError(err)
		return nil, wrapVerificationErr(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementRevocation()
	}
	audit.Record(ctx, s.logger, s.events, audit.EventVerificationRevoked, assetID.String(),
		"reason", reason,
		"previous_status", string(previous),
	)
	return record, nil
}

func wrapVerificationErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.ErrNotFound
	}
	return dErrors.Ensure(err, dErrors.CodeInternal, "verification operation failed")
}
