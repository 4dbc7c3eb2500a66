package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"trustcore/internal/ledger/models"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore(decimal.NewFromInt(1_000_000))
}

func (s *InMemoryStoreSuite) TestUpdate() {
	ctx := context.Background()

	s.Run("commits writes on success", func() {
		err := s.store.Update(ctx, func(b Book) error {
			b.SetBalance("alice", decimal.NewFromInt(100))
			b.PutPosition(models.Position{Staker: "alice", Principal: decimal.NewFromInt(50)})
			return nil
		})
		s.Require().NoError(err)

		s.Require().NoError(s.store.View(ctx, func(b Book) error {
			s.True(b.Balance("alice").Equal(decimal.NewFromInt(100)))
			p, ok := b.Position("alice")
			s.True(ok)
			s.True(p.Principal.Equal(decimal.NewFromInt(50)))
			s.True(b.TotalStaked().Equal(decimal.NewFromInt(50)))
			return nil
		}))
	})

	s.Run("discards writes on error", func() {
		err := s.store.Update(ctx, func(b Book) error {
			b.SetBalance("alice", decimal.NewFromInt(1))
			b.DeletePosition("alice")
			return errors.New("boom")
		})
		s.Require().Error(err)

		s.Require().NoError(s.store.View(ctx, func(b Book) error {
			s.True(b.Balance("alice").Equal(decimal.NewFromInt(100)))
			_, ok := b.Position("alice")
			s.True(ok)
			return nil
		}))
	})

	s.Run("delete inside the same transaction is visible", func() {
		err := s.store.Update(ctx, func(b Book) error {
			b.DeletePosition("alice")
			_, ok := b.Position("alice")
			s.False(ok)
			s.True(b.TotalStaked().IsZero())
			return nil
		})
		s.Require().NoError(err)
	})
}
