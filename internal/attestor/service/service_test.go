package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustcore/internal/attestor/metrics"
	"trustcore/internal/attestor/models"
	"trustcore/internal/attestor/store"
	"trustcore/internal/authz"
	authzmocks "trustcore/internal/authz/mocks"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/audit/publisher"
	auditmemory "trustcore/pkg/platform/audit/store/memory"
	"trustcore/pkg/requestcontext"
)

const (
	registrar id.AccountID = "registrar"
	authority id.AccountID = "authority"
	stranger  id.AccountID = "stranger"
)

type fakeInsurance struct {
	mu     sync.Mutex
	funded decimal.Decimal
	err    error
}

func (f *fakeInsurance) FundInsurance(_ context.Context, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.funded = f.funded.Add(amount)
	return nil
}

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	auth      *authzmocks.MockAuthorizer
	insurance *fakeInsurance
	events    *auditmemory.InMemoryStore
	svc       *Service
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.auth = authzmocks.NewMockAuthorizer(s.ctrl)
	s.auth.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, caller id.AccountID, c authz.Capability) bool {
			switch caller {
			case registrar:
				return c == authz.CapabilityRegistrar
			case authority:
				return c == authz.CapabilityAuthority
			}
			return false
		}).AnyTimes()
	s.insurance = &fakeInsurance{funded: decimal.Zero}
	s.events = auditmemory.NewInMemoryStore()
	s.now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.svc = New(store.NewInMemoryStore(), s.auth, decimal.NewFromInt(1000),
		WithInsurancePool(s.insurance),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithAuditPublisher(publisher.NewPublisher(s.events)),
	)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) as(caller id.AccountID) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), caller)
	return requestcontext.WithTime(ctx, s.now)
}

func (s *ServiceSuite) register(attestorID id.AccountID, stake int64) *models.Attestor {
	res, err := s.svc.Register(s.as(registrar), RegisterRequest{
		ID:               attestorID,
		OrganizationName: "Assay Labs",
		Country:          "CH",
		RequestedStake:   decimal.NewFromInt(stake),
		PaidValue:        decimal.NewFromInt(stake),
	})
	s.Require().NoError(err)
	return res.Attestor
}

func (s *ServiceSuite) TestRegister() {
	s.Run("initializes reputation at 5000 and reports overpayment", func() {
		res, err := s.svc.Register(s.as(registrar), RegisterRequest{
			ID:               "att-1",
			OrganizationName: "Assay Labs",
			Country:          "CH",
			RequestedStake:   decimal.NewFromInt(1000),
			PaidValue:        decimal.NewFromInt(1200),
		})
		s.Require().NoError(err)
		s.EqualValues(5000, res.Attestor.Reputation)
		s.True(res.Attestor.Active)
		s.True(res.Attestor.Stake.Equal(decimal.NewFromInt(1000)))
		s.True(res.Refund.Equal(decimal.NewFromInt(200)))
	})

	s.Run("duplicate id fails AlreadyRegistered", func() {
		_, err := s.svc.Register(s.as(registrar), RegisterRequest{
			ID: "att-1", OrganizationName: "Other", RequestedStake: decimal.NewFromInt(1000), PaidValue: decimal.NewFromInt(1000),
		})
		s.ErrorIs(err, models.ErrAlreadyRegistered)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("paid value below requested stake", func() {
		_, err := s.svc.Register(s.as(registrar), RegisterRequest{
			ID: "att-2", OrganizationName: "Org", RequestedStake: decimal.NewFromInt(2000), PaidValue: decimal.NewFromInt(1999),
		})
		s.ErrorIs(err, models.ErrInsufficientStake)
	})

	s.Run("requested stake below protocol minimum", func() {
		_, err := s.svc.Register(s.as(registrar), RegisterRequest{
			ID: "att-2", OrganizationName: "Org", RequestedStake: decimal.NewFromInt(999), PaidValue: decimal.NewFromInt(999),
		})
		s.ErrorIs(err, models.ErrInsufficientStake)
	})

	s.Run("caller without registrar capability", func() {
		_, err := s.svc.Register(s.as(stranger), RegisterRequest{
			ID: "att-3", OrganizationName: "Org", RequestedStake: decimal.NewFromInt(1000), PaidValue: decimal.NewFromInt(1000),
		})
		s.ErrorIs(err, authz.ErrUnauthorized)
	})
}

func (s *ServiceSuite) TestSlash() {
	s.register("att-1", 4000)

	s.Run("reduces stake by 25% and funds insurance", func() {
		res, err := s.svc.Slash(s.as(authority), "att-1", "forged assay")
		s.Require().NoError(err)
		s.True(res.Attestor.Stake.Equal(decimal.NewFromInt(3000)))
		s.Less(res.Attestor.Reputation, res.Outcome.PreviousReputation)
		s.True(s.insurance.funded.Equal(decimal.NewFromInt(1000)))
	})

	s.Run("requires authority", func() {
		_, err := s.svc.Slash(s.as(registrar), "att-1", "x")
		s.ErrorIs(err, authz.ErrUnauthorized)
	})

	s.Run("unknown attestor fails NotFound", func() {
		_, err := s.svc.Slash(s.as(authority), "missing", "x")
		s.ErrorIs(err, models.ErrNotFound)
	})

	s.Run("stake below minimum deactivates", func() {
		s.register("att-low", 1000)
		res, err := s.svc.Slash(s.as(authority), "att-low", "x")
		s.Require().NoError(err)
		s.True(res.Outcome.Deactivated)

		active, err := s.svc.IsActive(context.Background(), "att-low")
		s.Require().NoError(err)
		s.False(active)

		deactivations, err := s.events.ListByType(context.Background(), audit.EventAttestorDeactivated)
		s.Require().NoError(err)
		s.Len(deactivations, 1)
	})

	s.Run("inactive attestor fails NotActive", func() {
		_, err := s.svc.Slash(s.as(authority), "att-low", "x")
		s.ErrorIs(err, models.ErrNotActive)
	})
}

func (s *ServiceSuite) TestSlashRollsBackWhenInsuranceFails() {
	s.register("att-1", 4000)
	s.insurance.err = errors.New("fee ledger unavailable")

	_, err := s.svc.Slash(s.as(authority), "att-1", "forged assay")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	a, err := s.svc.Get(context.Background(), "att-1")
	s.Require().NoError(err)
	s.True(a.Stake.Equal(decimal.NewFromInt(4000)), "stake is restored")
	s.Zero(a.ConsecutiveSlashes)
	slashes, err := s.events.ListByType(context.Background(), audit.EventAttestorSlashed)
	s.Require().NoError(err)
	s.Empty(slashes)

	s.insurance.err = nil
	res, err := s.svc.Slash(s.as(authority), "att-1", "forged assay")
	s.Require().NoError(err)
	s.True(res.Attestor.Stake.Equal(decimal.NewFromInt(3000)))
	s.True(s.insurance.funded.Equal(decimal.NewFromInt(1000)))
}

func (s *ServiceSuite) TestThirdConsecutiveSlashDeactivates() {
	s.register("att-1", 1_000_000)
	for i := 0; i < 2; i++ {
		res, err := s.svc.Slash(s.as(authority), "att-1", "x")
		s.Require().NoError(err)
		s.False(res.Outcome.Deactivated)
	}
	res, err := s.svc.Slash(s.as(authority), "att-1", "x")
	s.Require().NoError(err)
	s.True(res.Outcome.Deactivated)
}

func (s *ServiceSuite) TestRecordAttestation() {
	s.register("att-1", 1000)
	var last *models.Attestor
	for i := 0; i < 10; i++ {
		a, err := s.svc.RecordAttestation(s.as(authority), "att-1", i < 7)
		s.Require().NoError(err)
		last = a
	}
	s.EqualValues(7000, last.Reputation)

	_, err := s.svc.RecordAttestation(s.as(authority), "missing", true)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestReactivate() {
	s.register("att-1", 1000)
	_, err := s.svc.Slash(s.as(authority), "att-1", "x")
	s.Require().NoError(err)

	_, err = s.svc.Reactivate(s.as(authority), "att-1", decimal.NewFromInt(100))
	s.ErrorIs(err, models.ErrInsufficientStake)

	a, err := s.svc.Reactivate(s.as(authority), "att-1", decimal.NewFromInt(250))
	s.Require().NoError(err)
	s.True(a.Active)

	_, err = s.svc.Reactivate(s.as(authority), "att-1", decimal.Zero)
	s.ErrorIs(err, models.ErrAlreadyActive)
}

func (s *ServiceSuite) TestQueriesDefaultForUnknownIDs() {
	a, err := s.svc.Get(context.Background(), "nobody")
	s.Require().NoError(err)
	s.False(a.Active)
	s.EqualValues(0, a.Reputation)
	s.True(a.Stake.IsZero())

	active, err := s.svc.IsActive(context.Background(), "nobody")
	s.Require().NoError(err)
	s.False(active)
}

func (s *ServiceSuite) TestActiveIDs() {
	s.register("b", 1000)
	s.register("a", 5000)
	_, err := s.svc.Slash(s.as(authority), "b", "x")
	s.Require().NoError(err)

	ids, err := s.svc.ActiveIDs(context.Background())
	s.Require().NoError(err)
	s.Equal([]id.AccountID{"a"}, ids)
}
