package tokenization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"trustcore/internal/authz"
	"trustcore/internal/fees"
	"trustcore/internal/protection"
	vmodels "trustcore/internal/verification/models"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/requestcontext"
)

type fakeVerifications struct {
	views map[id.AssetID]vmodels.View
}

func (f *fakeVerifications) GetStatus(_ context.Context, assetID id.AssetID) (vmodels.View, error) {
	if v, ok := f.views[assetID]; ok {
		return v, nil
	}
	return vmodels.PendingView(assetID), nil
}

type ServiceSuite struct {
	suite.Suite
	verifications *fakeVerifications
	fees          *fees.Service
	protection    *protection.Service
	svc           *Service
	now           time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	roles := authz.NewRoleTable()
	roles.Grant("authority", authz.CapabilityAuthority)
	s.verifications = &fakeVerifications{views: map[id.AssetID]vmodels.View{
		"verified": {AssetID: "verified", Status: vmodels.StatusVerified, Verified: true, Exists: true},
		"expired":  {AssetID: "expired", Status: vmodels.StatusExpired, Exists: true},
		"revoked":  {AssetID: "revoked", Status: vmodels.StatusRevoked, Exists: true},
	}}
	s.fees = fees.NewService(fees.NewInMemoryStore(), nil)
	s.protection = protection.NewService(protection.NewInMemoryStore(), roles)
	s.now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.svc = NewService(NewInMemoryStore(), s.verifications, roles, 100,
		WithFeeCollector(s.fees),
		WithProtection(s.protection),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)
}

func (s *ServiceSuite) as(caller id.AccountID) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), caller)
	return requestcontext.WithTime(ctx, s.now)
}

func (s *ServiceSuite) count() uint64 {
	n, err := s.svc.TokenizedCount(context.Background())
	s.Require().NoError(err)
	return n
}

func (s *ServiceSuite) treasury() decimal.Decimal {
	p, err := s.fees.Pools(context.Background())
	s.Require().NoError(err)
	return p.Treasury
}

func (s *ServiceSuite) request(assetID id.AssetID, fee int64) TokenizeRequest {
	return TokenizeRequest{
		AssetID:      assetID,
		AssetType:    "gold",
		Name:         "Bar 1042",
		Location:     "Zurich vault",
		TotalValue:   decimal.NewFromInt(1_000_000),
		TokenSupply:  decimal.NewFromInt(1000),
		MaturityDate: s.now.AddDate(1, 0, 0),
		PaidFee:      decimal.NewFromInt(fee),
	}
}

func (s *ServiceSuite) TestTokenize() {
	s.Run("verified asset with sufficient fee", func() {
		asset, err := s.svc.Tokenize(s.as("owner"), s.request("verified", 10_000))
		s.Require().NoError(err)
		s.Equal(id.AccountID("owner"), asset.Owner)
		s.True(asset.IsActive)
		s.EqualValues(1, s.count())
		tokenized, err := s.svc.IsTokenized(context.Background(), "verified")
		s.Require().NoError(err)
		s.True(tokenized)
	})

	s.Run("fee is forwarded to the distributor", func() {
		s.True(s.treasury().Equal(decimal.NewFromInt(4000)))
	})

	s.Run("protection is activated at full level", func() {
		level, err := s.protection.GetProtectionLevel(s.as("anyone"), "verified")
		s.Require().NoError(err)
		s.EqualValues(9000, level)
	})

	s.Run("second tokenization fails AlreadyTokenized", func() {
		_, err := s.svc.Tokenize(s.as("owner"), s.request("verified", 10_000))
		s.ErrorIs(err, ErrAlreadyTokenized)
		s.EqualValues(1, s.count())
	})
}

func (s *ServiceSuite) TestGate() {
	s.Run("expired verification", func() {
		_, err := s.svc.Tokenize(s.as("owner"), s.request("expired", 10_000))
		s.ErrorIs(err, ErrVerificationExpired)
	})

	s.Run("revoked verification is not verified", func() {
		_, err := s.svc.Tokenize(s.as("owner"), s.request("revoked", 10_000))
		s.ErrorIs(err, ErrAssetNotVerified)
	})

	s.Run("unknown asset is not verified", func() {
		_, err := s.svc.Tokenize(s.as("owner"), s.request("unknown", 10_000))
		s.ErrorIs(err, ErrAssetNotVerified)
		s.True(dErrors.HasCode(err, dErrors.CodeRuleViolation))
	})

	s.Run("fee one unit short", func() {
		_, err := s.svc.Tokenize(s.as("owner"), s.request("verified", 9_999))
		s.ErrorIs(err, ErrInsufficientFee)
	})

	s.Run("anonymous caller", func() {
		_, err := s.svc.Tokenize(s.as(""), s.request("verified", 10_000))
		s.ErrorIs(err, authz.ErrUnauthorized)
	})

	s.Run("nothing was tokenized", func() {
		s.Zero(s.count())
		s.True(s.treasury().IsZero())
	})
}

func (s *ServiceSuite) TestSetFee() {
	s.Run("requires authority", func() {
		s.ErrorIs(s.svc.SetFee(s.as("owner"), 200), authz.ErrUnauthorized)
	})

	s.Run("above 1000 bp fails FeeTooHigh", func() {
		s.ErrorIs(s.svc.SetFee(s.as("authority"), 1001), ErrFeeTooHigh)
		fee, err := s.svc.Fee(context.Background())
		s.Require().NoError(err)
		s.EqualValues(100, fee)
	})

	s.Run("new fee applies to later tokenizations", func() {
		s.Require().NoError(s.svc.SetFee(s.as("authority"), 1000))
		_, err := s.svc.Tokenize(s.as("owner"), s.request("verified", 10_000))
		s.ErrorIs(err, ErrInsufficientFee)
		_, err = s.svc.Tokenize(s.as("owner"), s.request("verified", 100_000))
		s.NoError(err)
	})

	s.Run("zero fee admits unpaid tokenization", func() {
		s.Require().NoError(s.svc.SetFee(s.as("authority"), 0))
		s.verifications.views["verified-2"] = vmodels.View{Status: vmodels.StatusVerified, Verified: true}
		_, err := s.svc.Tokenize(s.as("owner"), s.request("verified-2", 0))
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestConcurrentTokenizeAdmitsOnce() {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.svc.Tokenize(s.as("owner"), s.request("verified", 10_000)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, ok)
	s.EqualValues(1, s.count())
}

type failingCollector struct{}

func (failingCollector) DistributeFees(context.Context, decimal.Decimal) (fees.Split, error) {
	return fees.Split{}, errors.New("fee ledger unavailable")
}

func (s *ServiceSuite) TestAdmissionIsAllOrNothing() {
	s.Run("protection conflict undoes the catalog entry and the fee", func() {
		_, err := s.protection.Activate(s.as(""), "verified", decimal.NewFromInt(1))
		s.Require().NoError(err)

		_, err = s.svc.Tokenize(s.as("owner"), s.request("verified", 10_000))
		s.ErrorIs(err, protection.ErrAlreadyActive)
		s.Zero(s.count())
		s.True(s.treasury().IsZero())
		_, err = s.svc.GetAsset(context.Background(), "verified")
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("fee forwarding failure undoes the catalog entry", func() {
		roles := authz.NewRoleTable()
		buffer := protection.NewService(protection.NewInMemoryStore(), roles)
		gate := NewService(NewInMemoryStore(), s.verifications, roles, 100,
			WithFeeCollector(failingCollector{}),
			WithProtection(buffer),
		)
		_, err := gate.Tokenize(s.as("owner"), s.request("verified", 10_000))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		n, err := gate.TokenizedCount(context.Background())
		s.Require().NoError(err)
		s.Zero(n)
		_, err = buffer.GetState(context.Background(), "verified")
		s.ErrorIs(err, protection.ErrNotFound, "protection is never activated")
	})
}
