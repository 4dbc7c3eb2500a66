package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"trustcore/internal/authz"
	"trustcore/internal/ledger/service"
	"trustcore/internal/ledger/store"
	id "trustcore/pkg/domain"
	"trustcore/pkg/requestcontext"
	"trustcore/pkg/testutil"
)

const (
	staker    id.AccountID = "alice"
	authority id.AccountID = "treasury"
)

type LedgerHandlerSuite struct {
	suite.Suite
	now    time.Time
	router chi.Router
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

func (s *LedgerHandlerSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	roles := authz.NewRoleTable()
	roles.Grant(authority, authz.CapabilityAuthority)
	ledger := service.New(store.NewInMemoryStore(decimal.NewFromInt(1_000_000)), roles)

	ctx := requestcontext.WithTime(requestcontext.WithCaller(context.Background(), authority), s.now)
	s.Require().NoError(ledger.Mint(ctx, staker, decimal.NewFromInt(10_000)))

	s.router = chi.NewRouter()
	New(ledger, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *LedgerHandlerSuite) stake(body map[string]any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/stakes", body)
	ctx := requestcontext.WithTime(requestcontext.WithCaller(req.Context(), staker), s.now)
	return testutil.DoRequest(s.router, req.WithContext(ctx))
}

func (s *LedgerHandlerSuite) TestStakeLockPeriod() {
	s.Run("lock in seconds keeps sub-day precision", func() {
		lock := 45*24*time.Hour + 90*time.Minute
		rr := s.stake(map[string]any{"amount": "1000", "lock_seconds": int64(lock / time.Second)})
		s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

		body := testutil.DecodeJSON(s.T(), rr)
		s.EqualValues(int64(lock/time.Second), body["lock_seconds"])
		s.EqualValues(45, body["lock_days"])
		s.EqualValues(500, body["apy_bp"])
	})

	s.Run("whole days remain accepted", func() {
		rr := s.stake(map[string]any{"amount": "1000", "lock_days": 90})
		s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
		s.EqualValues(90*24*60*60, testutil.DecodeJSON(s.T(), rr)["lock_seconds"])
	})

	s.Run("one second short of the minimum lock", func() {
		rr := s.stake(map[string]any{"amount": "1000", "lock_seconds": 30*24*60*60 - 1})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("both units at once", func() {
		rr := s.stake(map[string]any{"amount": "1000", "lock_seconds": 3600, "lock_days": 30})
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("no lock period", func() {
		rr := s.stake(map[string]any{"amount": "1000"})
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}
