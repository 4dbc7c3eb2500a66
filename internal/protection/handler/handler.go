// Package handler exposes the ProtectionBuffer over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"trustcore/internal/protection"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

type Service interface {
	GetProtectionLevel(ctx context.Context, assetID id.AssetID) (id.BasisPoints, error)
	UpdatePriceHistory(ctx context.Context, assetID id.AssetID, price decimal.Decimal) error
	GetState(ctx context.Context, assetID id.AssetID) (protection.State, error)
}

type Handler struct {
	logger *slog.Logger
	buffer Service
}

func New(buffer Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, buffer: buffer}
}

// Register adds the protection routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/protection/{assetID}", h.handleGet)
	r.Get("/v1/protection/{assetID}/level", h.handleLevel)
	r.With(auth.RequireCaller).Post("/v1/protection/{assetID}/prices", h.handleReportPrice)
}

type priceRequest struct {
	Price string `json:"price"`

	price decimal.Decimal
}

func (r *priceRequest) Validate() error {
	price, err := id.ParseAmount(r.Price)
	if err != nil {
		return err
	}
	r.price = price
	return nil
}

type pricePointResponse struct {
	Price      decimal.Decimal `json:"price"`
	ReportedAt time.Time       `json:"reported_at"`
}

type stateResponse struct {
	AssetID          string               `json:"asset_id"`
	ActivatedAt      time.Time            `json:"activated_at"`
	InitialValuation decimal.Decimal      `json:"initial_valuation"`
	LevelBP          uint32               `json:"level_bp"`
	Coverage         decimal.Decimal      `json:"coverage"`
	PriceHistory     []pricePointResponse `json:"price_history"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}
	state, err := h.buffer.GetState(ctx, assetID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "protection lookup failed", err)
		return
	}
	now := requestcontext.Now(ctx)
	history := make([]pricePointResponse, len(state.PriceHistory))
	for i, p := range state.PriceHistory {
		history[i] = pricePointResponse{Price: p.Price, ReportedAt: p.ReportedAt}
	}
	httputil.WriteJSON(w, http.StatusOK, stateResponse{
		AssetID:          state.AssetID.String(),
		ActivatedAt:      state.ActivatedAt,
		InitialValuation: state.InitialValuation,
		LevelBP:          uint32(state.Level(now)),
		Coverage:         state.Coverage(now),
		PriceHistory:     history,
	})
}

func (h *Handler) handleLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}
	level, err := h.buffer.GetProtectionLevel(ctx, assetID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "protection level lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"asset_id": assetID.String(),
		"level_bp": uint32(level),
	})
}

func (h *Handler) handleReportPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[priceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.buffer.UpdatePriceHistory(ctx, assetID, req.price); err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "price report failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assetID(w http.ResponseWriter, r *http.Request) (id.AssetID, bool) {
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetID"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return assetID, true
}
