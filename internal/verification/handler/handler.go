// Package handler exposes the VerificationRegistry over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcore/internal/verification/models"
	"trustcore/internal/verification/service"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mock_service.go -package=mocks Service

// Service is the registry surface used by the handler.
type Service interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Record, error)
	GetStatus(ctx context.Context, assetID id.AssetID) (models.View, error)
	Get(ctx context.Context, assetID id.AssetID) (*models.Record, error)
	Review(ctx context.Context, assetID id.AssetID, approve bool) (*models.Record, error)
	Revoke(ctx context.Context, assetID id.AssetID, reason string) (*models.Record, error)
}

type Handler struct {
	logger        *slog.Logger
	verifications Service
}

func New(verifications Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, verifications: verifications}
}

// Register adds the verification routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/verifications/{assetID}", h.handleGet)
	r.Get("/v1/verifications/{assetID}/status", h.handleGetStatus)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller)
		r.Post("/v1/verifications", h.handleSubmit)
		r.Post("/v1/verifications/{assetID}/review", h.handleReview)
		r.Post("/v1/verifications/{assetID}/revoke", h.handleRevoke)
	})
}

type submitRequest struct {
	AssetID      string     `json:"asset_id"`
	AssetType    string     `json:"asset_type"`
	Owner        string     `json:"owner"`
	ScoreBP      uint32     `json:"score_bp"`
	EvidenceHash string     `json:"evidence_hash"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Signatures   []string   `json:"signatures"`
	AttestorIDs  []string   `json:"attestor_ids"`

	parsed service.SubmitRequest
}

func (r *submitRequest) Validate() error {
	assetID, err := id.ParseAssetID(r.AssetID)
	if err != nil {
		return err
	}
	assetType, err := id.ParseAssetType(r.AssetType)
	if err != nil {
		return err
	}
	owner, err := id.ParseAccountID(r.Owner)
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.EvidenceHash) == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence_hash is required")
	}
	attestorIDs := make([]id.AccountID, 0, len(r.AttestorIDs))
	for _, raw := range r.AttestorIDs {
		attestorID, err := id.ParseAccountID(raw)
		if err != nil {
			return err
		}
		attestorIDs = append(attestorIDs, attestorID)
	}
	r.parsed = service.SubmitRequest{
		AssetID:      assetID,
		AssetType:    assetType,
		Owner:        owner,
		Score:        id.BasisPoints(r.ScoreBP),
		EvidenceHash: r.EvidenceHash,
		Signatures:   r.Signatures,
		AttestorIDs:  attestorIDs,
	}
	if r.ExpiresAt != nil {
		r.parsed.ExpiresAt = r.ExpiresAt.UTC()
	}
	return nil
}

type reviewRequest struct {
	Approve *bool `json:"approve"`
}

func (r *reviewRequest) Validate() error {
	if r.Approve == nil {
		return dErrors.New(dErrors.CodeValidation, "approve is required")
	}
	return nil
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (r *revokeRequest) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

type recordResponse struct {
	AssetID      string    `json:"asset_id"`
	AssetType    string    `json:"asset_type"`
	Owner        string    `json:"owner"`
	ScoreBP      uint32    `json:"score_bp"`
	EvidenceHash string    `json:"evidence_hash"`
	BundleDigest string    `json:"bundle_digest"`
	ExpiresAt    time.Time `json:"expires_at"`
	AttestorIDs  []string  `json:"attestor_ids"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	SubmittedBy  string    `json:"submitted_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toRecordResponse(rec *models.Record, now time.Time) recordResponse {
	attestorIDs := make([]string, len(rec.AttestorIDs))
	for i, a := range rec.AttestorIDs {
		attestorIDs[i] = a.String()
	}
	return recordResponse{
		AssetID:      rec.AssetID.String(),
		AssetType:    rec.AssetType.String(),
		Owner:        rec.Owner.String(),
		ScoreBP:      uint32(rec.Score),
		EvidenceHash: rec.EvidenceHash,
		BundleDigest: rec.BundleDigest,
		ExpiresAt:    rec.ExpiresAt,
		AttestorIDs:  attestorIDs,
		Status:       string(rec.Evaluate(now)),
		StatusReason: rec.StatusReason,
		SubmittedBy:  rec.SubmittedBy.String(),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

type statusResponse struct {
	AssetID   string     `json:"asset_id"`
	Status    string     `json:"status"`
	Verified  bool       `json:"verified"`
	ScoreBP   uint32     `json:"score_bp"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[submitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.verifications.Submit(ctx, req.parsed)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "verification submit failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(rec, requestcontext.Now(ctx)))
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}
	view, err := h.verifications.GetStatus(ctx, assetID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "verification status lookup failed", err)
		return
	}
	resp := statusResponse{
		AssetID:  view.AssetID.String(),
		Status:   string(view.Status),
		Verified: view.Verified,
		ScoreBP:  uint32(view.Score),
	}
	if view.Exists {
		expires := view.ExpiresAt
		resp.ExpiresAt = &expires
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}
	rec, err := h.verifications.Get(ctx, assetID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "verification lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec, requestcontext.Now(ctx)))
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[reviewRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.verifications.Review(ctx, assetID, *req.Approve)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "verification review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec, requestcontext.Now(ctx)))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[revokeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.verifications.Revoke(ctx, assetID, req.Reason)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "verification revoke failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec, requestcontext.Now(ctx)))
}

func (h *Handler) assetID(w http.ResponseWriter, r *http.Request) (id.AssetID, bool) {
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetID"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return assetID, true
}
