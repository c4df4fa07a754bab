package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/stall"
	"github.com/erazemk/bazaar/internal/store"
)

// StallsHandler handles player stall endpoints.
type StallsHandler struct {
	DB     *sql.DB
	Ledger *stall.Ledger
}

type escrowRequest struct {
	Persona string `json:"persona"`
	Amount  int64  `json:"amount"`
}

type saleRequest struct {
	ProductID int64 `json:"product_id"`
	Price     int64 `json:"price"`
}

// List handles GET /api/stalls.
func (h *StallsHandler) List(w http.ResponseWriter, r *http.Request) {
	stalls, err := store.ListStalls(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list stalls", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list stalls")
		return
	}
	if stalls == nil {
		stalls = []model.PlayerStall{}
	}
	jsonResponse(w, http.StatusOK, stalls)
}

// Get handles GET /api/stalls/{id}.
func (h *StallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stall id")
		return
	}

	s, err := store.GetStall(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get stall", "stall", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get stall")
		return
	}
	if s == nil {
		jsonError(w, http.StatusNotFound, "stall not found")
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

// Deposit handles POST /api/stalls/{id}/deposit.
func (h *StallsHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moveEscrow(w, r, "deposit", h.Ledger.Deposit)
}

// Withdraw handles POST /api/stalls/{id}/withdraw.
func (h *StallsHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveEscrow(w, r, "withdrawal", h.Ledger.Withdraw)
}

// Sale handles POST /api/stalls/{id}/sales.
func (h *StallsHandler) Sale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stall id")
		return
	}

	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.Ledger.RecordSale(r.Context(), id, req.ProductID, req.Price)
	if err != nil {
		status := stallErrorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("failed to record sale", "stall", id, "product", req.ProductID, "error", err)
			jsonError(w, status, "failed to record sale")
			return
		}
		jsonError(w, status, err.Error())
		return
	}

	slog.Info("stall sale recorded", "operator", operator(r), "stall", id, "product", req.ProductID, "price", req.Price)
	jsonResponse(w, http.StatusOK, s)
}

func (h *StallsHandler) moveEscrow(w http.ResponseWriter, r *http.Request, what string,
	op func(context.Context, int64, string, int64) (*model.PlayerStall, error)) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stall id")
		return
	}

	var req escrowRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := model.ParsePersonaID(req.Persona); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := op(r.Context(), id, req.Persona, req.Amount)
	if err != nil {
		status := stallErrorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("escrow "+what+" failed", "stall", id, "persona", req.Persona, "error", err)
			jsonError(w, status, "escrow "+what+" failed")
			return
		}
		jsonError(w, status, err.Error())
		return
	}

	slog.Info("escrow "+what, "operator", operator(r), "stall", id, "persona", req.Persona, "amount", req.Amount)
	jsonResponse(w, http.StatusOK, s)
}

func stallErrorStatus(err error) int {
	switch {
	case errors.Is(err, stall.ErrStallNotFound):
		return http.StatusNotFound
	case errors.Is(err, stall.ErrUnauthorizedDepositor):
		return http.StatusForbidden
	case errors.Is(err, stall.ErrInvalidAmount), errors.Is(err, stall.ErrDepositTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, stall.ErrStallInactive), errors.Is(err, stall.ErrGracePeriod),
		errors.Is(err, stall.ErrInsufficientEscrow), errors.Is(err, stall.ErrInsufficientGold),
		errors.Is(err, stall.ErrItemSoldOut):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
