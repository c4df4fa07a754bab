package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/reeve"
)

// ReeveHandler handles market reeve lockup endpoints.
type ReeveHandler struct {
	Lockup    *reeve.LockupService
	Recipient reeve.Recipient
}

type releaseRequest struct {
	Persona string `json:"persona"`
	Area    string `json:"area"`
	ItemID  int64  `json:"item_id,omitempty"`
}

type releaseResponse struct {
	Released  int `json:"released"`
	Remaining int `json:"remaining"`
}

// List handles GET /api/reeve?persona=&area=.
func (h *ReeveHandler) List(w http.ResponseWriter, r *http.Request) {
	persona, area := r.URL.Query().Get("persona"), r.URL.Query().Get("area")
	if _, err := model.ParsePersonaID(persona); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(area) == "" {
		jsonError(w, http.StatusBadRequest, "area required")
		return
	}

	items, err := h.Lockup.ListStoredInventory(r.Context(), persona, area)
	if err != nil {
		slog.Error("failed to list reeve items", "persona", persona, "area", area, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list stored items")
		return
	}
	if items == nil {
		items = []model.ItemSummary{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Release handles POST /api/reeve/release. Without an item_id every stored
// item for the persona and area is released.
func (h *ReeveHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := model.ParsePersonaID(req.Persona); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Area) == "" {
		jsonError(w, http.StatusBadRequest, "area required")
		return
	}

	ctx := r.Context()
	var released int
	if req.ItemID > 0 {
		ok, err := h.Lockup.ReleaseStoredItem(ctx, req.ItemID, req.Persona, req.Area, h.Recipient)
		if err != nil {
			slog.Error("failed to release reeve item", "item", req.ItemID, "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to release item")
			return
		}
		if ok {
			released = 1
		}
	} else {
		n, err := h.Lockup.ReleaseInventoryToPlayer(ctx, req.Persona, req.Area, h.Recipient)
		if err != nil {
			slog.Error("failed to release reeve items", "persona", req.Persona, "area", req.Area, "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to release items")
			return
		}
		released = n
	}

	remaining, err := h.Lockup.CountStoredInventory(ctx, req.Persona, req.Area)
	if err != nil {
		slog.Error("failed to count reeve items", "persona", req.Persona, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to count stored items")
		return
	}

	slog.Info("reeve items released", "operator", operator(r), "persona", req.Persona, "area", req.Area,
		"released", released, "remaining", remaining)
	jsonResponse(w, http.StatusOK, releaseResponse{Released: released, Remaining: remaining})
}
