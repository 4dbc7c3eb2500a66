package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"trustcore/internal/attestor/models"
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

func (s *InMemoryStoreSuite) TestCreate() {
	ctx := context.Background()
	a := models.NewAttestor("att-1", "Org", "CH", decimal.NewFromInt(1000), s.now)
	s.Require().NoError(s.store.Create(ctx, a))

	s.Run("duplicate id is rejected", func() {
		err := s.store.Create(ctx, a)
		s.ErrorIs(err, sentinel.ErrAlreadyExists)
	})

	s.Run("returned copies do not alias stored state", func() {
		found, err := s.store.FindByID(ctx, "att-1")
		s.Require().NoError(err)
		found.Active = false

		again, err := s.store.FindByID(ctx, "att-1")
		s.Require().NoError(err)
		s.True(again.Active)
	})

	s.Run("unknown id", func() {
		_, err := s.store.FindByID(ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestListActive() {
	ctx := context.Background()
	for _, attestorID := range []string{"c", "a", "b"} {
		a := models.NewAttestor(toID(attestorID), "Org", "CH", decimal.NewFromInt(1000), s.now)
		a.Active = attestorID != "b"
		s.Require().NoError(s.store.Create(ctx, a))
	}

	active, err := s.store.ListActive(ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.Equal("a", string(active[0].ID))
	s.Equal("c", string(active[1].ID))
}

func (s *InMemoryStoreSuite) TestExecute() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, models.NewAttestor("att-1", "Org", "CH", decimal.NewFromInt(1000), s.now)))

	s.Run("validation failure leaves record untouched", func() {
		_, err := s.store.Execute(ctx, "att-1",
			func(*models.Attestor) error { return errors.New("nope") },
			func(a *models.Attestor) { a.Active = false },
		)
		s.Error(err)
		found, _ := s.store.FindByID(ctx, "att-1")
		s.True(found.Active)
	})

	s.Run("concurrent mutations serialize", func() {
		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.store.Execute(ctx, "att-1",
					func(*models.Attestor) error { return nil },
					func(a *models.Attestor) { a.RecordAttestation(true, s.now) },
				)
				if err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		found, _ := s.store.FindByID(ctx, "att-1")
		s.Equal(uint64(ok.Load()), found.TotalAttestations)
	})
}
