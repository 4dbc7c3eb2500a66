package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustcore/internal/verification/handler/mocks"
	"trustcore/internal/verification/models"
	"trustcore/internal/verification/service"
	id "trustcore/pkg/domain"
	"trustcore/pkg/requestcontext"
)

type VerificationHandlerSuite struct {
	suite.Suite
	now     time.Time
	service *mocks.MockService
	router  chi.Router
}

func TestVerificationHandlerSuite(t *testing.T) {
	suite.Run(t, new(VerificationHandlerSuite))
}

func (s *VerificationHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.service = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	New(s.service, logger).Register(s.router)
}

func (s *VerificationHandlerSuite) do(method, path string, body any, caller id.AccountID) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	ctx := requestcontext.WithTime(req.Context(), s.now)
	if !caller.IsNil() {
		ctx = requestcontext.WithCaller(ctx, caller)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req.WithContext(ctx))
	return w
}

func (s *VerificationHandlerSuite) TestSubmit() {
	s.Run("decodes bundle into a submit request", func() {
		s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req service.SubmitRequest) (*models.Record, error) {
				s.Equal(id.AssetID("asset-1"), req.AssetID)
				s.Equal(id.BasisPoints(8000), req.Score)
				s.Equal([]id.AccountID{"0xatt1"}, req.AttestorIDs)
				s.True(req.ExpiresAt.IsZero())
				return &models.Record{
					AssetID:     req.AssetID,
					AssetType:   req.AssetType,
					Owner:       req.Owner,
					Score:       req.Score,
					AttestorIDs: req.AttestorIDs,
					Status:      models.StatusVerified,
					ExpiresAt:   s.now.Add(24 * time.Hour),
				}, nil
			})

		w := s.do(http.MethodPost, "/v1/verifications", map[string]any{
			"asset_id":      "asset-1",
			"asset_type":    "real_estate",
			"owner":         "0xowner",
			"score_bp":      8000,
			"evidence_hash": "ipfs://evidence",
			"signatures":    []string{"sig-1"},
			"attestor_ids":  []string{"0xatt1"},
		}, "0xsubmitter")

		s.Equal(http.StatusCreated, w.Code)
		var resp recordResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("VERIFIED", resp.Status)
	})

	s.Run("maps domain errors to status codes", func() {
		s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, models.ErrInsufficientSignatures)

		w := s.do(http.MethodPost, "/v1/verifications", map[string]any{
			"asset_id":      "asset-2",
			"asset_type":    "real_estate",
			"owner":         "0xowner",
			"score_bp":      9000,
			"evidence_hash": "ipfs://evidence",
			"signatures":    []string{"sig-1"},
			"attestor_ids":  []string{"0xatt1"},
		}, "0xsubmitter")

		s.Equal(http.StatusUnprocessableEntity, w.Code)
		s.Contains(w.Body.String(), "rule_violation")
	})

	s.Run("rejects malformed identifiers before reaching the service", func() {
		w := s.do(http.MethodPost, "/v1/verifications", map[string]any{
			"asset_id":      "../etc/passwd",
			"asset_type":    "real_estate",
			"owner":         "0xowner",
			"evidence_hash": "ipfs://evidence",
		}, "0xsubmitter")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("anonymous callers are rejected", func() {
		w := s.do(http.MethodPost, "/v1/verifications", map[string]any{}, "")
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func (s *VerificationHandlerSuite) TestGetStatus() {
	s.Run("unknown asset reads as pending", func() {
		s.service.EXPECT().GetStatus(gomock.Any(), id.AssetID("asset-9")).Return(models.PendingView("asset-9"), nil)

		w := s.do(http.MethodGet, "/v1/verifications/asset-9/status", nil, "")
		s.Equal(http.StatusOK, w.Code)

		var resp statusResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("PENDING", resp.Status)
		s.False(resp.Verified)
		s.Nil(resp.ExpiresAt)
	})

	s.Run("expired record is reported unverified", func() {
		s.service.EXPECT().GetStatus(gomock.Any(), id.AssetID("asset-1")).Return(models.View{
			AssetID:   "asset-1",
			Status:    models.StatusExpired,
			Score:     8000,
			ExpiresAt: s.now.Add(-time.Hour),
			Exists:    true,
		}, nil)

		w := s.do(http.MethodGet, "/v1/verifications/asset-1/status", nil, "")
		var resp statusResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("EXPIRED", resp.Status)
		s.False(resp.Verified)
	})
}

func (s *VerificationHandlerSuite) TestReview() {
	s.Run("requires an explicit decision", func() {
		w := s.do(http.MethodPost, "/v1/verifications/asset-1/review", map[string]any{}, "0xauthority")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("forwards approval", func() {
		s.service.EXPECT().Review(gomock.Any(), id.AssetID("asset-1"), true).Return(&models.Record{
			AssetID:   "asset-1",
			Status:    models.StatusVerified,
			ExpiresAt: s.now.Add(time.Hour),
		}, nil)

		w := s.do(http.MethodPost, "/v1/verifications/asset-1/review", map[string]any{"approve": true}, "0xauthority")
		s.Equal(http.StatusOK, w.Code)
	})
}
