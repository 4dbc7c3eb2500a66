//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"trustcore/internal/ledger/models"
	"trustcore/internal/ledger/store"
	"trustcore/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgresStore(s.postgres.DB, decimal.NewFromInt(1_000_000))
	s.now = time.Now().UTC().Truncate(time.Second)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.ResetTables(context.Background(), "ledger_balances", "stake_positions", "ledger_supply"))
}

func (s *PostgresStoreSuite) TestUpdate() {
	ctx := context.Background()

	s.Run("commits writes on success", func() {
		err := s.store.Update(ctx, func(b store.Book) error {
			sup := b.Supply()
			sup.Total = sup.Total.Add(decimal.NewFromInt(150))
			b.SetSupply(sup)
			b.SetBalance("alice", decimal.NewFromInt(100))
			b.PutPosition(models.Position{
				Staker:     "alice",
				Principal:  decimal.NewFromInt(50),
				LockPeriod: 45 * 24 * time.Hour,
				StartedAt:  s.now,
			})
			return nil
		})
		s.Require().NoError(err)

		s.Require().NoError(s.store.View(ctx, func(b store.Book) error {
			s.True(b.Balance("alice").Equal(decimal.NewFromInt(100)))
			s.True(b.Balance("bob").IsZero())
			p, ok := b.Position("alice")
			s.Require().True(ok)
			s.True(p.Principal.Equal(decimal.NewFromInt(50)))
			s.Equal(45*24*time.Hour, p.LockPeriod)
			s.True(p.StartedAt.Equal(s.now))
			s.True(b.TotalStaked().Equal(decimal.NewFromInt(50)))
			s.True(b.Supply().Total.Equal(decimal.NewFromInt(150)))
			s.True(b.Supply().Max.Equal(decimal.NewFromInt(1_000_000)))
			return nil
		}))
	})

	s.Run("discards writes on error", func() {
		err := s.store.Update(ctx, func(b store.Book) error {
			b.SetBalance("alice", decimal.NewFromInt(1))
			b.DeletePosition("alice")
			return errors.New("boom")
		})
		s.Require().Error(err)

		s.Require().NoError(s.store.View(ctx, func(b store.Book) error {
			s.True(b.Balance("alice").Equal(decimal.NewFromInt(100)))
			_, ok := b.Position("alice")
			s.True(ok)
			return nil
		}))
	})

	s.Run("staged writes are visible inside the update", func() {
		err := s.store.Update(ctx, func(b store.Book) error {
			b.PutPosition(models.Position{Staker: "bob", Principal: decimal.NewFromInt(30), StartedAt: s.now})
			s.True(b.TotalStaked().Equal(decimal.NewFromInt(80)))
			b.DeletePosition("alice")
			s.True(b.TotalStaked().Equal(decimal.NewFromInt(30)))
			return nil
		})
		s.Require().NoError(err)

		s.Require().NoError(s.store.View(ctx, func(b store.Book) error {
			_, ok := b.Position("alice")
			s.False(ok)
			s.True(b.TotalStaked().Equal(decimal.NewFromInt(30)))
			return nil
		}))
	})
}

func (s *PostgresStoreSuite) TestPausePersists() {
	ctx := context.Background()
	s.Require().NoError(s.store.Update(ctx, func(b store.Book) error {
		sup := b.Supply()
		sup.Paused = true
		b.SetSupply(sup)
		return nil
	}))

	reopened := store.NewPostgresStore(s.postgres.DB, decimal.NewFromInt(1_000_000))
	s.Require().NoError(reopened.View(ctx, func(b store.Book) error {
		s.True(b.Supply().Paused)
		return nil
	}))
}
