package policy

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"trustcore/internal/authz"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/requestcontext"
)

var tracer = otel.Tracer("policy")

// Store persists policies keyed by asset type.
type Store interface {
	Put(ctx context.Context, p Policy) error
	Get(ctx context.Context, assetType id.AssetType) (Policy, bool, error)
}

type Service struct {
	store  Store
	auth   authz.Authorizer
	logger *slog.Logger
	events audit.Emitter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

func NewService(store Store, auth authz.Authorizer, opts ...Option) *Service {
	s := &Service{store: store, auth: auth}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SetPolicyRequest carries the fields of a policy update.
type SetPolicyRequest struct {
	AssetType            id.AssetType
	MinScore             id.BasisPoints
	TTL                  time.Duration
	RequiredAttestors    uint32
	RequiresManualReview bool
}

// SetPolicy overwrites the policy for an asset type. Authority only.
func (s *Service) SetPolicy(ctx context.Context, req SetPolicyRequest) (Policy, error) {
	ctx, span := tracer.Start(ctx, "Policy.Service.SetPolicy")
	defer span.End()

	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityAuthority); err != nil {
		return Policy{}, err
	}
	p := Policy{
		AssetType:            req.AssetType,
		MinScore:             req.MinScore,
		TTL:                  req.TTL,
		RequiredAttestors:    req.RequiredAttestors,
		RequiresManualReview: req.RequiresManualReview,
		UpdatedAt:            requestcontext.Now(ctx),
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	if err := s.store.Put(ctx, p); err != nil {
		span.RecordError(err)
		return Policy{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store policy")
	}

	audit.Record(ctx, s.logger, s.events, audit.EventPolicyUpdated, p.AssetType.String(),
		"min_score", uint32(p.MinScore),
		"ttl_seconds", int64(p.TTL/time.Second),
		"required_attestors", p.RequiredAttestors,
		"requires_manual_review", p.RequiresManualReview,
	)
	return p, nil
}

// GetPolicy returns the policy for assetType, or the all-zero default.
func (s *Service) GetPolicy(ctx context.Context, assetType id.AssetType) (Policy, error) {
	p, ok, err := s.store.Get(ctx, assetType)
	if err != nil {
		return Policy{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load policy")
	}
	if !ok {
		return Policy{AssetType: assetType}, nil
	}
	return p, nil
}
