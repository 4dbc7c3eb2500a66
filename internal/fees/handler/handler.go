// Package handler exposes the FeeDistributor over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"trustcore/internal/fees"
	id "trustcore/pkg/domain"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

type Service interface {
	DistributeFees(ctx context.Context, amount decimal.Decimal) (fees.Split, error)
	FundInsurance(ctx context.Context, amount decimal.Decimal) error
	ClaimValidatorRewards(ctx context.Context) (decimal.Decimal, error)
	ValidatorRewards(ctx context.Context, validator id.AccountID) (decimal.Decimal, error)
	Pools(ctx context.Context) (fees.Pools, error)
}

type Handler struct {
	logger      *slog.Logger
	distributor Service
}

func New(distributor Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, distributor: distributor}
}

// Register adds the fee routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/fees/pools", h.handlePools)
	r.Get("/v1/fees/validators/{account}", h.handleValidatorRewards)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller)
		r.Post("/v1/fees", h.handleDistribute)
		r.Post("/v1/fees/insurance", h.handleFundInsurance)
		r.Post("/v1/fees/validators/claims", h.handleClaim)
	})
}

type amountRequest struct {
	Amount string `json:"amount"`

	amount decimal.Decimal
}

func (r *amountRequest) Validate() error {
	amount, err := id.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.amount = amount
	return nil
}

type poolsResponse struct {
	Treasury   decimal.Decimal `json:"treasury"`
	Stakers    decimal.Decimal `json:"stakers"`
	Insurance  decimal.Decimal `json:"insurance"`
	Validators decimal.Decimal `json:"validators"`
}

func (h *Handler) handleDistribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[amountRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	split, err := h.distributor.DistributeFees(ctx, req.amount)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "fee distribution failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, poolsResponse(split))
}

func (h *Handler) handleFundInsurance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[amountRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.distributor.FundInsurance(ctx, req.amount); err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "insurance funding failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paid, err := h.distributor.ClaimValidatorRewards(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "validator reward claim failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"validator": requestcontext.Caller(ctx).String(),
		"amount":    paid,
	})
}

func (h *Handler) handlePools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pools, err := h.distributor.Pools(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "pool lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, poolsResponse(pools))
}

func (h *Handler) handleValidatorRewards(w http.ResponseWriter, r *http.Request) {
	validator, err := id.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	unclaimed, err := h.distributor.ValidatorRewards(ctx, validator)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "validator reward lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"validator": validator.String(),
		"unclaimed": unclaimed,
	})
}
