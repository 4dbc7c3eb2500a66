package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustcore/internal/verification/models"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) record(assetID id.AssetID) *models.Record {
	return &models.Record{
		AssetID:     assetID,
		AssetType:   "gold",
		Owner:       "owner",
		Score:       8000,
		ExpiresAt:   s.now.Add(time.Hour),
		Signatures:  []string{"sig-1"},
		AttestorIDs: []id.AccountID{"att-1"},
		Status:      models.StatusVerified,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.record("asset-1")))

	s.Run("duplicate asset is rejected", func() {
		s.ErrorIs(s.store.Create(ctx, s.record("asset-1")), sentinel.ErrAlreadyExists)
	})

	s.Run("returned record does not alias stored slices", func() {
		found, err := s.store.FindByAssetID(ctx, "asset-1")
		s.Require().NoError(err)
		found.Signatures[0] = "tampered"

		again, err := s.store.FindByAssetID(ctx, "asset-1")
		s.Require().NoError(err)
		s.Equal("sig-1", again.Signatures[0])
	})

	s.Run("unknown asset", func() {
		_, err := s.store.FindByAssetID(ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestExecute() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.record("asset-1")))

	s.Run("validation failure leaves record untouched", func() {
		boom := errors.New("boom")
		_, err := s.store.Execute(ctx, "asset-1",
			func(*models.Record) error { return boom },
			func(r *models.Record) { r.Status = models.StatusRevoked },
		)
		s.ErrorIs(err, boom)

		found, err := s.store.FindByAssetID(ctx, "asset-1")
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, found.Status)
	})

	s.Run("mutation is persisted", func() {
		updated, err := s.store.Execute(ctx, "asset-1",
			func(*models.Record) error { return nil },
			func(r *models.Record) { r.ApplyRevocation("fraud", s.now) },
		)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, updated.Status)

		found, err := s.store.FindByAssetID(ctx, "asset-1")
		s.Require().NoError(err)
		s.Equal("fraud", found.StatusReason)
	})

	s.Run("unknown asset", func() {
		_, err := s.store.Execute(ctx, "missing",
			func(*models.Record) error { return nil },
			func(*models.Record) {},
		)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
