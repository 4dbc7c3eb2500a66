package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"trustcore/internal/authz"
	"trustcore/internal/policy"
	"trustcore/internal/verification/metrics"
	"trustcore/internal/verification/models"
	"trustcore/internal/verification/store"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/audit/publisher"
	auditmemory "trustcore/pkg/platform/audit/store/memory"
	"trustcore/pkg/requestcontext"
)

const (
	submitter id.AccountID = "submitter"
	authority id.AccountID = "authority"
	stranger  id.AccountID = "stranger"
)

type fakeAttestors struct {
	mu     sync.Mutex
	active map[id.AccountID]bool
	err    error
}

func (f *fakeAttestors) IsActive(_ context.Context, attestorID id.AccountID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.active[attestorID], nil
}

type ServiceSuite struct {
	suite.Suite
	roles     *authz.RoleTable
	policies  *policy.Service
	attestors *fakeAttestors
	events    *auditmemory.InMemoryStore
	svc       *Service
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.roles = authz.NewRoleTable()
	s.roles.Grant(submitter, authz.CapabilitySubmitter)
	s.roles.Grant(authority, authz.CapabilityAuthority)
	s.policies = policy.NewService(policy.NewInMemoryStore(), s.roles)
	s.attestors = &fakeAttestors{active: map[id.AccountID]bool{"att-1": true, "att-2": true, "att-off": false}}
	s.events = auditmemory.NewInMemoryStore()
	s.now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.svc = New(store.NewInMemoryStore(), s.policies, s.attestors, s.roles,
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithAuditPublisher(publisher.NewPublisher(s.events)),
	)
	s.setPolicy("gold", 7500, time.Hour, 1, false)
}

func (s *ServiceSuite) as(caller id.AccountID) context.Context {
	return s.asAt(caller, s.now)
}

func (s *ServiceSuite) asAt(caller id.AccountID, at time.Time) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), caller)
	return requestcontext.WithTime(ctx, at)
}

func (s *ServiceSuite) setPolicy(assetType id.AssetType, minScore id.BasisPoints, ttl time.Duration, required uint32, manual bool) {
	_, err := s.policies.SetPolicy(s.as(authority), policy.SetPolicyRequest{
		AssetType:            assetType,
		MinScore:             minScore,
		TTL:                  ttl,
		RequiredAttestors:    required,
		RequiresManualReview: manual,
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) bundle(assetID id.AssetID, score id.BasisPoints, attestors ...id.AccountID) SubmitRequest {
	sigs := make([]string, len(attestors))
	for i := range attestors {
		sigs[i] = "sig-" + attestors[i].String()
	}
	return SubmitRequest{
		AssetID:      assetID,
		AssetType:    "gold",
		Owner:        "owner",
		Score:        score,
		EvidenceHash: "0xevidence",
		Signatures:   sigs,
		AttestorIDs:  attestors,
	}
}

func (s *ServiceSuite) TestSubmit() {
	s.Run("score at or above threshold is verified", func() {
		rec, err := s.svc.Submit(s.as(submitter), s.bundle("asset-1", 8000, "att-1"))
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, rec.Status)
		s.Equal(s.now.Add(time.Hour), rec.ExpiresAt, "zero expiry defaults to policy ttl")
		s.Len(rec.BundleDigest, 64)
		s.Equal(submitter, rec.SubmittedBy)

		view, err := s.svc.GetStatus(s.as(stranger), "asset-1")
		s.Require().NoError(err)
		s.True(view.Verified)
		s.EqualValues(8000, view.Score)
	})

	s.Run("score below threshold stays pending", func() {
		rec, err := s.svc.Submit(s.as(submitter), s.bundle("asset-low", 7499, "att-1"))
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)
	})

	s.Run("duplicate asset fails DuplicateVerification", func() {
		_, err := s.svc.Submit(s.as(submitter), s.bundle("asset-1", 9000, "att-1"))
		s.ErrorIs(err, models.ErrDuplicateVerification)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("caller without submitter capability", func() {
		_, err := s.svc.Submit(s.as(authority), s.bundle("asset-2", 9000, "att-1"))
		s.ErrorIs(err, authz.ErrUnauthorized)
	})

	s.Run("explicit expiry in the past is stored and reads as expired", func() {
		req := s.bundle("asset-past", 9000, "att-1")
		req.ExpiresAt = s.now.Add(-time.Minute)
		rec, err := s.svc.Submit(s.as(submitter), req)
		s.Require().NoError(err)
		s.Equal(s.now.Add(-time.Minute), rec.ExpiresAt)
		s.Equal(models.StatusVerified, rec.Status)

		view, err := s.svc.GetStatus(s.as(stranger), "asset-past")
		s.Require().NoError(err)
		s.True(view.Exists)
		s.Equal(models.StatusExpired, view.Status)
		s.False(view.Verified)
	})

	s.Run("score above 10000", func() {
		_, err := s.svc.Submit(s.as(submitter), s.bundle("asset-3", 10001, "att-1"))
		s.ErrorIs(err, models.ErrInvalidScore)
	})

	s.Run("signature count must match attestors", func() {
		req := s.bundle("asset-3", 9000, "att-1")
		req.Signatures = nil
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrSignatureMismatch)
	})
}

func (s *ServiceSuite) TestQuorum() {
	s.setPolicy("diamond", 5000, time.Hour, 2, false)

	s.Run("fewer attestors than required fails regardless of score", func() {
		req := s.bundle("asset-d1", 10000, "att-1")
		req.AssetType = "diamond"
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrInsufficientSignatures)
	})

	s.Run("repeated attestor does not count twice", func() {
		req := s.bundle("asset-d1", 10000, "att-1", "att-1")
		req.AssetType = "diamond"
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrDuplicateAttestor)
	})

	s.Run("inactive attestor fails InactiveAttestor", func() {
		req := s.bundle("asset-d1", 10000, "att-1", "att-off")
		req.AssetType = "diamond"
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrInactiveAttestor)
	})

	s.Run("unknown attestor is treated as inactive", func() {
		req := s.bundle("asset-d1", 10000, "att-1", "ghost")
		req.AssetType = "diamond"
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrInactiveAttestor)
	})

	s.Run("two distinct active attestors satisfy quorum", func() {
		req := s.bundle("asset-d1", 10000, "att-1", "att-2")
		req.AssetType = "diamond"
		rec, err := s.svc.Submit(s.as(submitter), req)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, rec.Status)
	})

	s.Run("lookup failure is internal", func() {
		s.attestors.err = errors.New("db down")
		defer func() { s.attestors.err = nil }()
		_, err := s.svc.Submit(s.as(submitter), s.bundle("asset-x", 9000, "att-1"))
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestUnsetPolicyWithoutExpiry() {
	req := s.bundle("asset-u", 9000, "att-1")
	req.AssetType = "unconfigured"
	rec, err := s.svc.Submit(s.as(submitter), req)
	s.Require().NoError(err)
	s.Equal(s.now, rec.ExpiresAt, "zero ttl expires at submission time")

	view, err := s.svc.GetStatus(s.asAt(stranger, s.now.Add(time.Second)), "asset-u")
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, view.Status)
}

func (s *ServiceSuite) TestSubmitErrorOrder() {
	_, err := s.svc.Submit(s.as(submitter), s.bundle("asset-o", 9000, "att-1"))
	s.Require().NoError(err)
	s.setPolicy("diamond", 5000, time.Hour, 2, false)

	s.Run("duplicate record wins over a malformed bundle", func() {
		req := s.bundle("asset-o", 9000, "att-1")
		req.Signatures = nil
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrDuplicateVerification)
	})

	s.Run("quorum wins over a malformed bundle", func() {
		req := s.bundle("asset-o2", 9000, "att-1")
		req.AssetType = "diamond"
		req.Signatures = []string{""}
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrInsufficientSignatures)
	})

	s.Run("quorum wins over inactive attestors", func() {
		req := s.bundle("asset-o3", 9000, "att-off")
		req.AssetType = "diamond"
		_, err := s.svc.Submit(s.as(submitter), req)
		s.ErrorIs(err, models.ErrInsufficientSignatures)
	})
}

func (s *ServiceSuite) TestGetStatus() {
	s.Run("unknown asset reads as pending", func() {
		view, err := s.svc.GetStatus(s.as(stranger), "nothing")
		s.Require().NoError(err)
		s.Equal(models.StatusPending, view.Status)
		s.False(view.Verified)
		s.False(view.Exists)
	})

	s.Run("verified asset expires lazily", func() {
		_, err := s.svc.Submit(s.as(submitter), s.bundle("asset-e", 9000, "att-1"))
		s.Require().NoError(err)

		view, err := s.svc.GetStatus(s.asAt(stranger, s.now.Add(time.Hour+time.Second)), "asset-e")
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, view.Status)
		s.False(view.Verified)

		rec, err := s.svc.Get(context.Background(), "asset-e")
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, rec.Status, "expiry is never written back")
	})
}

func (s *ServiceSuite) TestReview() {
	s.setPolicy("art", 0, time.Hour, 1, true)
	req := s.bundle("asset-art", 10000, "att-1")
	req.AssetType = "art"
	rec, err := s.svc.Submit(s.as(submitter), req)
	s.Require().NoError(err)
	s.Equal(models.StatusManualReview, rec.Status)

	s.Run("requires authority", func() {
		_, err := s.svc.Review(s.as(submitter), "asset-art", true)
		s.ErrorIs(err, authz.ErrUnauthorized)
	})

	s.Run("approval verifies", func() {
		rec, err := s.svc.Review(s.as(authority), "asset-art", true)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, rec.Status)
	})

	s.Run("second review conflicts", func() {
		_, err := s.svc.Review(s.as(authority), "asset-art", false)
		s.ErrorIs(err, models.ErrNotInManualReview)
	})

	s.Run("unknown asset", func() {
		_, err := s.svc.Review(s.as(authority), "missing", true)
		s.ErrorIs(err, models.ErrNotFound)
	})
}

func (s *ServiceSuite) TestRevoke() {
	_, err := s.svc.Submit(s.as(submitter), s.bundle("asset-r", 9000, "att-1"))
	s.Require().NoError(err)

	_, err = s.svc.Revoke(s.as(submitter), "asset-r", "fraud")
	s.ErrorIs(err, authz.ErrUnauthorized)

	rec, err := s.svc.Revoke(s.as(authority), "asset-r", "fraud")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, rec.Status)

	view, err := s.svc.GetStatus(s.as(stranger), "asset-r")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, view.Status)
	s.False(view.Verified)

	revoked, err := s.events.ListByType(context.Background(), audit.EventVerificationRevoked)
	s.Require().NoError(err)
	s.Require().Len(revoked, 1)
	s.Equal("VERIFIED", revoked[0].Attributes["previous_status"])
}
