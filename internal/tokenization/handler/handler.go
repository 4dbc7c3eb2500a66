// Package handler exposes the TokenizationGate over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"trustcore/internal/tokenization"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

type Service interface {
	Tokenize(ctx context.Context, req tokenization.TokenizeRequest) (*tokenization.Asset, error)
	SetFee(ctx context.Context, bp id.BasisPoints) error
	Fee(ctx context.Context) (id.BasisPoints, error)
	GetAsset(ctx context.Context, assetID id.AssetID) (*tokenization.Asset, error)
	TokenizedCount(ctx context.Context) (uint64, error)
}

type Handler struct {
	logger *slog.Logger
	gate   Service
}

func New(gate Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, gate: gate}
}

// Register adds the tokenization routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/assets/{assetID}", h.handleGetAsset)
	r.Get("/v1/tokenization", h.handleSummary)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller)
		r.Post("/v1/assets", h.handleTokenize)
		r.Put("/v1/tokenization/fee", h.handleSetFee)
	})
}

type tokenizeRequest struct {
	AssetID      string     `json:"asset_id"`
	AssetType    string     `json:"asset_type"`
	Name         string     `json:"name"`
	Location     string     `json:"location"`
	TotalValue   string     `json:"total_value"`
	TokenSupply  string     `json:"token_supply"`
	MaturityDate *time.Time `json:"maturity_date,omitempty"`
	PaidFee      string     `json:"paid_fee"`

	parsed tokenization.TokenizeRequest
}

func (r *tokenizeRequest) Validate() error {
	assetID, err := id.ParseAssetID(r.AssetID)
	if err != nil {
		return err
	}
	assetType, err := id.ParseAssetType(r.AssetType)
	if err != nil {
		return err
	}
	totalValue, err := id.ParseAmount(r.TotalValue)
	if err != nil {
		return err
	}
	supply, err := id.ParseAmount(r.TokenSupply)
	if err != nil {
		return err
	}
	paidFee := decimal.Zero
	if r.PaidFee != "" {
		if paidFee, err = id.ParseAmount(r.PaidFee); err != nil {
			return err
		}
	}
	r.parsed = tokenization.TokenizeRequest{
		AssetID:     assetID,
		AssetType:   assetType,
		Name:        r.Name,
		Location:    r.Location,
		TotalValue:  totalValue,
		TokenSupply: supply,
		PaidFee:     paidFee,
	}
	if r.MaturityDate != nil {
		r.parsed.MaturityDate = r.MaturityDate.UTC()
	}
	return nil
}

type setFeeRequest struct {
	FeeBP *uint32 `json:"fee_bp"`
}

func (r *setFeeRequest) Validate() error {
	if r.FeeBP == nil {
		return dErrors.New(dErrors.CodeValidation, "fee_bp is required")
	}
	return nil
}

type assetResponse struct {
	AssetID      string          `json:"asset_id"`
	Owner        string          `json:"owner"`
	AssetType    string          `json:"asset_type"`
	Name         string          `json:"name"`
	Location     string          `json:"location,omitempty"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TokenSupply  decimal.Decimal `json:"token_supply"`
	MaturityDate *time.Time      `json:"maturity_date,omitempty"`
	IsActive     bool            `json:"is_active"`
	FeePaid      decimal.Decimal `json:"fee_paid"`
	TokenizedAt  time.Time       `json:"tokenized_at"`
}

func toResponse(a *tokenization.Asset) assetResponse {
	resp := assetResponse{
		AssetID:     a.AssetID.String(),
		Owner:       a.Owner.String(),
		AssetType:   a.AssetType.String(),
		Name:        a.Name,
		Location:    a.Location,
		TotalValue:  a.TotalValue,
		TokenSupply: a.TokenSupply,
		IsActive:    a.IsActive,
		FeePaid:     a.FeePaid,
		TokenizedAt: a.TokenizedAt,
	}
	if !a.MaturityDate.IsZero() {
		maturity := a.MaturityDate
		resp.MaturityDate = &maturity
	}
	return resp
}

func (h *Handler) handleTokenize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[tokenizeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	asset, err := h.gate.Tokenize(ctx, req.parsed)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "tokenization failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(asset))
}

func (h *Handler) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	asset, err := h.gate.GetAsset(ctx, assetID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "asset lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(asset))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fee, err := h.gate.Fee(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "fee lookup failed", err)
		return
	}
	count, err := h.gate.TokenizedCount(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "catalog count failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"fee_bp":          uint32(fee),
		"tokenized_count": count,
	})
}

func (h *Handler) handleSetFee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[setFeeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.gate.SetFee(ctx, id.BasisPoints(*req.FeeBP)); err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "set tokenization fee failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
