// Package handler exposes the StakeLedger over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"trustcore/internal/ledger/models"
	"trustcore/internal/ledger/service"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/requestcontext"
)

// Service is the ledger surface used by the handler.
type Service interface {
	Stake(ctx context.Context, amount decimal.Decimal, lock time.Duration) (*models.Position, error)
	Unstake(ctx context.Context) (*service.UnstakeResult, error)
	CalculateReward(ctx context.Context, staker id.AccountID) (decimal.Decimal, error)
	PositionOf(ctx context.Context, staker id.AccountID) (models.Position, error)
	BalanceOf(ctx context.Context, account id.AccountID) (decimal.Decimal, error)
	Supply(ctx context.Context) (models.Supply, error)
	TotalStaked(ctx context.Context) (decimal.Decimal, error)
	Transfer(ctx context.Context, to id.AccountID, amount decimal.Decimal) error
	Mint(ctx context.Context, to id.AccountID, amount decimal.Decimal) error
	Burn(ctx context.Context, from id.AccountID, amount decimal.Decimal) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
}

type Handler struct {
	logger *slog.Logger
	ledger Service
}

func New(ledger Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

// Register adds the ledger routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/balances/{account}", h.handleBalance)
	r.Get("/v1/stakes/{account}", h.handlePosition)
	r.Get("/v1/supply", h.handleSupply)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller)
		r.Post("/v1/stakes", h.handleStake)
		r.Post("/v1/stakes/withdrawals", h.handleUnstake)
		r.Post("/v1/transfers", h.handleTransfer)
		r.Post("/v1/supply/mint", h.handleMint)
		r.Post("/v1/supply/burn", h.handleBurn)
		r.Post("/v1/supply/pause", h.handlePause)
		r.Post("/v1/supply/unpause", h.handleUnpause)
	})
}

// stakeRequest takes the lock period in seconds or, as a shorthand, whole
// days. Exactly one must be set.
type stakeRequest struct {
	Amount      string `json:"amount"`
	LockSeconds int64  `json:"lock_seconds"`
	LockDays    int64  `json:"lock_days"`

	amount decimal.Decimal
	lock   time.Duration
}

func (r *stakeRequest) Validate() error {
	amount, err := id.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	switch {
	case r.LockSeconds != 0 && r.LockDays != 0:
		return dErrors.New(dErrors.CodeValidation, "set either lock_seconds or lock_days")
	case r.LockSeconds > 0:
		r.lock = time.Duration(r.LockSeconds) * time.Second
	case r.LockDays > 0:
		r.lock = time.Duration(r.LockDays) * models.Day
	default:
		return dErrors.New(dErrors.CodeValidation, "lock_seconds must be positive")
	}
	r.amount = amount
	return nil
}

type movementRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`

	account id.AccountID
	amount  decimal.Decimal
}

func (r *movementRequest) Validate() error {
	account, err := id.ParseAccountID(r.Account)
	if err != nil {
		return err
	}
	amount, err := id.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.account, r.amount = account, amount
	return nil
}

type positionResponse struct {
	Staker        string          `json:"staker"`
	Principal     decimal.Decimal `json:"principal"`
	AccruedReward decimal.Decimal `json:"accrued_reward"`
	Reward        decimal.Decimal `json:"reward"`
	LockSeconds   int64           `json:"lock_seconds"`
	LockDays      int64           `json:"lock_days"`
	APYBP         uint32          `json:"apy_bp"`
	StartedAt     time.Time       `json:"started_at"`
	UnlocksAt     time.Time       `json:"unlocks_at"`
	Locked        bool            `json:"locked"`
}

func toPositionResponse(p models.Position, reward decimal.Decimal, now time.Time) positionResponse {
	return positionResponse{
		Staker:        p.Staker.String(),
		Principal:     p.Principal,
		AccruedReward: p.AccruedReward,
		Reward:        reward,
		LockSeconds:   int64(p.LockPeriod / time.Second),
		LockDays:      int64(p.LockPeriod / models.Day),
		APYBP:         uint32(models.APYFor(p.LockPeriod)),
		StartedAt:     p.StartedAt,
		UnlocksAt:     p.UnlocksAt(),
		Locked:        p.IsLocked(now),
	}
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[stakeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	pos, err := h.ledger.Stake(ctx, req.amount, req.lock)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "stake failed", err)
		return
	}
	now := requestcontext.Now(ctx)
	httputil.WriteJSON(w, http.StatusCreated, toPositionResponse(*pos, pos.Reward(now), now))
}

func (h *Handler) handleUnstake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.ledger.Unstake(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "unstake failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"staker":    res.Staker.String(),
		"principal": res.Principal,
		"reward":    res.Reward,
		"payout":    res.Payout,
	})
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	staker, err := id.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pos, err := h.ledger.PositionOf(ctx, staker)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "position lookup failed", err)
		return
	}
	reward, err := h.ledger.CalculateReward(ctx, staker)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "reward lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPositionResponse(pos, reward, requestcontext.Now(ctx)))
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := id.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	balance, err := h.ledger.BalanceOf(ctx, account)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "balance lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"account": account.String(), "balance": balance})
}

func (h *Handler) handleSupply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	supply, err := h.ledger.Supply(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "supply lookup failed", err)
		return
	}
	staked, err := h.ledger.TotalStaked(ctx)
	if err != nil {
		httputil.WriteFailure(ctx, w, h.logger, "total staked lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"total":        supply.Total,
		"max":          supply.Max,
		"headroom":     supply.Headroom(),
		"total_staked": staked,
		"paused":       supply.Paused,
	})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "transfer failed", h.ledger.Transfer)
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "mint failed", h.ledger.Mint)
}

func (h *Handler) handleBurn(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "burn failed", h.ledger.Burn)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, failMsg string, apply func(context.Context, id.AccountID, decimal.Decimal) error) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[movementRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := apply(ctx, req.account, req.amount); err != nil {
		httputil.WriteFailure(ctx, w, h.logger, failMsg, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Pause(r.Context()); err != nil {
		httputil.WriteFailure(r.Context(), w, h.logger, "pause failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Unpause(r.Context()); err != nil {
		httputil.WriteFailure(r.Context(), w, h.logger, "unpause failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
