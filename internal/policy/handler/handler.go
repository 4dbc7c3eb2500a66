// Package handler exposes the PolicyStore over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcore/internal/policy"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

type Service interface {
	SetPolicy(ctx context.Context, req policy.SetPolicyRequest) (policy.Policy, error)
	GetPolicy(ctx context.Context, assetType id.AssetType) (policy.Policy, error)
}

type Handler struct {
	logger   *slog.Logger
	policies Service
}

func New(policies Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, policies: policies}
}

// Register adds the policy routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/policies/{assetType}", h.handleGet)
	r.With(auth.RequireCaller).Put("/v1/policies/{assetType}", h.handleSet)
}

type setPolicyRequest struct {
	MinScoreBP           uint32 `json:"min_score_bp"`
	TTLSeconds           int64  `json:"ttl_seconds"`
	RequiredAttestors    uint32 `json:"required_attestors"`
	RequiresManualReview bool   `json:"requires_manual_review"`
}

func (r *setPolicyRequest) Validate() error {
	if r.TTLSeconds < 0 {
		return dErrors.New(dErrors.CodeValidation, "ttl_seconds cannot be negative")
	}
	return nil
}

type policyResponse struct {
	AssetType            string     `json:"asset_type"`
	MinScoreBP           uint32     `json:"min_score_bp"`
	TTLSeconds           int64      `json:"ttl_seconds"`
	RequiredAttestors    uint32     `json:"required_attestors"`
	RequiresManualReview bool       `json:"requires_manual_review"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
}

func toResponse(assetType id.AssetType, p policy.Policy) policyResponse {
	resp := policyResponse{
		AssetType:            assetType.String(),
		MinScoreBP:           uint32(p.MinScore),
		TTLSeconds:           int64(p.TTL / time.Second),
		RequiredAttestors:    p.RequiredAttestors,
		RequiresManualReview: p.RequiresManualReview,
	}
	if !p.UpdatedAt.IsZero() {
		updated := p.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetType, err := id.ParseAssetType(chi.URLParam(r, "assetType"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[setPolicyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.policies.SetPolicy(ctx, policy.SetPolicyRequest{
		AssetType:            assetType,
		MinScore:             id.BasisPoints(req.MinScoreBP),
		TTL:                  time.Duration(req.TTLSeconds) * time.Second,
		RequiredAttestors:    req.RequiredAttestors,
		RequiresManualReview: req.RequiresManualReview,
	})
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "set policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(assetType, p))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetType, err := id.ParseAssetType(chi.URLParam(r, "assetType"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.policies.GetPolicy(ctx, assetType)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "policy lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(assetType, p))
}
