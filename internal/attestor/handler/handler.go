// Package handler exposes the AttestorRegistry over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"trustcore/internal/attestor/models"
	"trustcore/internal/attestor/service"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

// Service is the registry surface used by the handler.
type Service interface {
	Register(ctx context.Context, req service.RegisterRequest) (*service.RegisterResult, error)
	Slash(ctx context.Context, attestorID id.AccountID, reason string) (*service.SlashResult, error)
	RecordAttestation(ctx context.Context, attestorID id.AccountID, wasCorrect bool) (*models.Attestor, error)
	Reactivate(ctx context.Context, attestorID id.AccountID, topUp decimal.Decimal) (*models.Attestor, error)
	Get(ctx context.Context, attestorID id.AccountID) (models.Attestor, error)
	ListActive(ctx context.Context) ([]*models.Attestor, error)
}

type Handler struct {
	logger    *slog.Logger
	attestors Service
}

func New(attestors Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, attestors: attestors}
}

// Register adds the attestor routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/attestors", h.handleListActive)
	r.Get("/v1/attestors/{attestorID}", h.handleGet)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller)
		r.Post("/v1/attestors", h.handleRegister)
		r.Post("/v1/attestors/{attestorID}/slash", h.handleSlash)
		r.Post("/v1/attestors/{attestorID}/attestations", h.handleRecordAttestation)
		r.Post("/v1/attestors/{attestorID}/reactivate", h.handleReactivate)
	})
}

type registerRequest struct {
	ID               string `json:"id"`
	OrganizationName string `json:"organization_name"`
	Country          string `json:"country"`
	RequestedStake   string `json:"requested_stake"`
	PaidValue        string `json:"paid_value"`

	parsed service.RegisterRequest
}

func (r *registerRequest) Validate() error {
	attestorID, err := id.ParseAccountID(r.ID)
	if err != nil {
		return err
	}
	stake, err := id.ParseAmount(r.RequestedStake)
	if err != nil {
		return err
	}
	paid := stake
	if r.PaidValue != "" {
		if paid, err = id.ParseAmount(r.PaidValue); err != nil {
			return err
		}
	}
	if strings.TrimSpace(r.OrganizationName) == "" {
		return dErrors.New(dErrors.CodeValidation, "organization_name is required")
	}
	r.parsed = service.RegisterRequest{
		ID:               attestorID,
		OrganizationName: r.OrganizationName,
		Country:          r.Country,
		RequestedStake:   stake,
		PaidValue:        paid,
	}
	return nil
}

type slashRequest struct {
	Reason string `json:"reason"`
}

func (r *slashRequest) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

type attestationRequest struct {
	Correct *bool `json:"correct"`
}

func (r *attestationRequest) Validate() error {
	if r.Correct == nil {
		return dErrors.New(dErrors.CodeValidation, "correct is required")
	}
	return nil
}

type reactivateRequest struct {
	TopUp string `json:"top_up"`

	topUp decimal.Decimal
}

func (r *reactivateRequest) Validate() error {
	if r.TopUp == "" {
		r.topUp = decimal.Zero
		return nil
	}
	topUp, err := id.ParseAmount(r.TopUp)
	if err != nil {
		return err
	}
	r.topUp = topUp
	return nil
}

type attestorResponse struct {
	ID                  string          `json:"id"`
	OrganizationName    string          `json:"organization_name"`
	Country             string          `json:"country,omitempty"`
	Stake               decimal.Decimal `json:"stake"`
	ReputationBP        uint32          `json:"reputation_bp"`
	TotalAttestations   uint64          `json:"total_attestations"`
	CorrectAttestations uint64          `json:"correct_attestations"`
	ConsecutiveSlashes  int             `json:"consecutive_slashes"`
	Active              bool            `json:"active"`
	RegisteredAt        time.Time       `json:"registered_at"`
}

func toResponse(a *models.Attestor) attestorResponse {
	return attestorResponse{
		ID:                  a.ID.String(),
		OrganizationName:    a.OrganizationName,
		Country:             a.Country,
		Stake:               a.Stake,
		ReputationBP:        uint32(a.Reputation),
		TotalAttestations:   a.TotalAttestations,
		CorrectAttestations: a.CorrectAttestations,
		ConsecutiveSlashes:  a.ConsecutiveSlashes,
		Active:              a.Active,
		RegisteredAt:        a.RegisteredAt,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[registerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.attestors.Register(ctx, req.parsed)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "attestor registration failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"attestor": toResponse(res.Attestor),
		"refund":   res.Refund,
	})
}

func (h *Handler) handleSlash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attestorID, ok := h.attestorID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[slashRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.attestors.Slash(ctx, attestorID, req.Reason)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "slash failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"attestor":               toResponse(res.Attestor),
		"slashed":                res.Outcome.Slashed,
		"previous_reputation_bp": uint32(res.Outcome.PreviousReputation),
		"deactivated":            res.Outcome.Deactivated,
	})
}

func (h *Handler) handleRecordAttestation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attestorID, ok := h.attestorID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[attestationRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	a, err := h.attestors.RecordAttestation(ctx, attestorID, *req.Correct)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "record attestation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attestorID, ok := h.attestorID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[reactivateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	a, err := h.attestors.Reactivate(ctx, attestorID, req.topUp)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "reactivate failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attestorID, ok := h.attestorID(w, r)
	if !ok {
		return
	}
	a, err := h.attestors.Get(ctx, attestorID)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "attestor lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(&a))
}

func (h *Handler) handleListActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	active, err := h.attestors.ListActive(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "attestor listing failed", err)
		return
	}
	out := make([]attestorResponse, 0, len(active))
	for _, a := range active {
		out = append(out, toResponse(a))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"attestors": out})
}

func (h *Handler) attestorID(w http.ResponseWriter, r *http.Request) (id.AccountID, bool) {
	attestorID, err := id.ParseAccountID(chi.URLParam(r, "attestorID"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return attestorID, true
}
