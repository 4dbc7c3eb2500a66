// Package handler exposes the SettlementEngine over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"trustcore/internal/settlement/models"
	"trustcore/internal/settlement/service"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

type Service interface {
	CreateSettlement(ctx context.Context, req service.CreateRequest) (*models.Settlement, error)
	ConfirmDelivery(ctx context.Context, settlementID id.SettlementID, proofHash string) (*models.Settlement, error)
	RaiseDispute(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error)
	Settle(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error)
	Get(ctx context.Context, settlementID id.SettlementID) (*models.Settlement, error)
	ListByAsset(ctx context.Context, assetID id.AssetID) ([]*models.Settlement, error)
}

type Handler struct {
	logger      *slog.Logger
	settlements Service
}

func New(settlements Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, settlements: settlements}
}

// Register adds the settlement routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/settlements", h.handleListByAsset)
	r.Get("/v1/settlements/{settlementID}", h.handleGet)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller)
		r.Post("/v1/settlements", h.handleCreate)
		r.Post("/v1/settlements/{settlementID}/confirmations", h.handleConfirm)
		r.Post("/v1/settlements/{settlementID}/dispute", h.handleDispute)
		r.Post("/v1/settlements/{settlementID}/settle", h.handleSettle)
	})
}

type createRequest struct {
	AssetID          string    `json:"asset_id"`
	Seller           string    `json:"seller"`
	DeliveryDeadline time.Time `json:"delivery_deadline"`
	TrackingHash     string    `json:"tracking_hash"`
	PaidAmount       string    `json:"paid_amount"`

	parsed service.CreateRequest
}

func (r *createRequest) Validate() error {
	assetID, err := id.ParseAssetID(r.AssetID)
	if err != nil {
		return err
	}
	seller, err := id.ParseAccountID(r.Seller)
	if err != nil {
		return err
	}
	paid := decimal.Zero
	if r.PaidAmount != "" {
		if paid, err = id.ParseAmount(r.PaidAmount); err != nil {
			return err
		}
	}
	r.parsed = service.CreateRequest{
		AssetID:          assetID,
		Seller:           seller,
		DeliveryDeadline: r.DeliveryDeadline.UTC(),
		TrackingHash:     r.TrackingHash,
		PaidAmount:       paid,
	}
	return nil
}

type confirmRequest struct {
	ProofHash string `json:"proof_hash"`
}

func (r *confirmRequest) Validate() error {
	if strings.TrimSpace(r.ProofHash) == "" {
		return dErrors.New(dErrors.CodeValidation, "proof_hash is required")
	}
	return nil
}

type confirmationResponse struct {
	Confirmer   string    `json:"confirmer"`
	Role        string    `json:"role"`
	ProofHash   string    `json:"proof_hash"`
	IsValid     bool      `json:"is_valid"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type settlementResponse struct {
	ID               string                 `json:"id"`
	AssetID          string                 `json:"asset_id"`
	Buyer            string                 `json:"buyer"`
	Seller           string                 `json:"seller"`
	Amount           decimal.Decimal        `json:"amount"`
	Fee              decimal.Decimal        `json:"fee"`
	Payout           decimal.Decimal        `json:"payout"`
	DeliveryDeadline time.Time              `json:"delivery_deadline"`
	TrackingHash     string                 `json:"tracking_hash,omitempty"`
	Status           string                 `json:"status"`
	Confirmations    []confirmationResponse `json:"confirmations"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func toResponse(st *models.Settlement) settlementResponse {
	confirmations := make([]confirmationResponse, len(st.Confirmations))
	for i, c := range st.Confirmations {
		confirmations[i] = confirmationResponse{
			Confirmer:   c.Confirmer.String(),
			Role:        string(c.Role),
			ProofHash:   c.ProofHash,
			IsValid:     c.IsValid,
			ConfirmedAt: c.ConfirmedAt,
		}
	}
	return settlementResponse{
		ID:               st.ID.String(),
		AssetID:          st.AssetID.String(),
		Buyer:            st.Buyer.String(),
		Seller:           st.Seller.String(),
		Amount:           st.Amount,
		Fee:              st.Fee,
		Payout:           st.Payout,
		DeliveryDeadline: st.DeliveryDeadline,
		TrackingHash:     st.TrackingHash,
		Status:           string(st.Status),
		Confirmations:    confirmations,
		CreatedAt:        st.CreatedAt,
		UpdatedAt:        st.UpdatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	st, err := h.settlements.CreateSettlement(ctx, req.parsed)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "create settlement failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(st))
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settlementID, ok := h.settlementID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[confirmRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	st, err := h.settlements.ConfirmDelivery(ctx, settlementID, req.ProofHash)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "confirm delivery failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(st))
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "raise dispute failed", h.settlements.RaiseDispute)
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "settle failed", h.settlements.Settle)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, failMsg string, apply func(context.Context, id.SettlementID) (*models.Settlement, error)) {
	ctx := r.Context()
	settlementID, ok := h.settlementID(w, r)
	if !ok {
		return
	}
	st, err := apply(ctx, settlementID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, failMsg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(st))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settlementID, ok := h.settlementID(w, r)
	if !ok {
		return
	}
	st, err := h.settlements.Get(ctx, settlementID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "settlement lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(st))
}

func (h *Handler) handleListByAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID, err := id.ParseAssetID(r.URL.Query().Get("asset_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.settlements.ListByAsset(ctx, assetID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "settlement listing failed", err)
		return
	}
	out := make([]settlementResponse, 0, len(list))
	for _, st := range list {
		out = append(out, toResponse(st))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"settlements": out})
}

func (h *Handler) settlementID(w http.ResponseWriter, r *http.Request) (id.SettlementID, bool) {
	settlementID, err := id.ParseSettlementID(chi.URLParam(r, "settlementID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SettlementID{}, false
	}
	return settlementID, true
}
