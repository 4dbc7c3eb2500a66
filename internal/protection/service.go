package protection

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"trustcore/internal/authz"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

// Store persists protection states. See InMemoryStore for the error contract.
type Store interface {
	Create(ctx context.Context, st *State) error
	FindByID(ctx context.Context, assetID id.AssetID) (*State, error)
	Execute(ctx context.Context, assetID id.AssetID, validate func(*State) error, mutate func(*State)) (*State, error)
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

// Activate starts protection for a tokenized asset at the request time.
// It is invoked by the tokenization gate, not by external callers.
func (s *Service) Activate(ctx context.Context, assetID id.AssetID, valuation decimal.Decimal) (State, error) {
	if !valuation.IsPositive() {
		return State{}, ErrInvalidValuation
	}
	st := State{AssetID: assetID, ActivatedAt: requestcontext.Now(ctx), InitialValuation: valuation}
	if err := s.store.Create(ctx, &st); err != nil {
		return State{}, wrapStoreErr(err)
	}

	audit.Record(ctx, s.logger, s.events, audit.EventProtectionActivated, assetID.String(),
		"valuation", valuation.String(),
	)
	return st.clone(), nil
}

// GetProtectionLevel returns the current protection level. Unknown assets
// have no protection.
func (s *Service) GetProtectionLevel(ctx context.Context, assetID id.AssetID) (id.BasisPoints, error) {
	st, err := s.store.FindByID(ctx, assetID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return st.Level(requestcontext.Now(ctx)), nil
}

// UpdatePriceHistory appends a reported price. Oracle only.
func (s *Service) UpdatePriceHistory(ctx context.Context, assetID id.AssetID, price decimal.Decimal) error {
	if err := authz.Require(ctx, s.auth, requestcontext.Caller(ctx), authz.CapabilityOracle); err != nil {
		return err
	}
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	point := PricePoint{Price: price, ReportedAt: requestcontext.Now(ctx)}
	_, err := s.store.Execute(ctx, assetID,
		func(*State) error { return nil },
		func(st *State) {
			st.PriceHistory = append(st.PriceHistory, point)
		},
	)
	if err != nil {
		return wrapStoreErr(err)
	}
	s.logger.InfoContext(ctx, "price reported",
		"asset_id", assetID.String(),
		"price", price.String(),
	)
	return nil
}

// GetState returns the asset's protection state.
func (s *Service) GetState(ctx context.Context, assetID id.AssetID) (State, error) {
	st, err := s.store.FindByID(ctx, assetID)
	if err != nil {
		return State{}, wrapStoreErr(err)
	}
	return *st, nil
}

// LatestPrice returns the most recent reported price, if any.
func (s *Service) LatestPrice(ctx context.Context, assetID id.AssetID) (PricePoint, bool, error) {
	st, err := s.GetState(ctx, assetID)
	if err != nil {
		return PricePoint{}, false, err
	}
	if len(st.PriceHistory) == 0 {
		return PricePoint{}, false, nil
	}
	return st.PriceHistory[len(st.PriceHistory)-1], true, nil
}

func wrapStoreErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return ErrAlreadyActive
	default:
		return dErrors.Ensure(err, dErrors.CodeInternal, "protection store failure")
	}
}
