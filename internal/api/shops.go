package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/shop"
)

// ShopsHandler handles shop catalog endpoints.
type ShopsHandler struct {
	Shops     *shop.Repository
	Prices    *shop.PriceCalculator
	Restocker *shop.Restocker
	Checkout  *shop.Checkout
}

type purchaseRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Buyer     string `json:"buyer"`
}

type priceResponse struct {
	ShopTag   string `json:"shop_tag"`
	ProductID int64  `json:"product_id"`
	Buyer     string `json:"buyer,omitempty"`
	Price     int64  `json:"price"`
}

// List handles GET /api/shops.
func (h *ShopsHandler) List(w http.ResponseWriter, r *http.Request) {
	shops := h.Shops.All()
	if shops == nil {
		shops = []model.ShopRecord{}
	}
	jsonResponse(w, http.StatusOK, shops)
}

// Get handles GET /api/shops/{tag}.
func (h *ShopsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.Shops.TryGet(r.PathValue("tag"))
	if !ok {
		jsonError(w, http.StatusNotFound, "shop not found")
		return
	}
	jsonResponse(w, http.StatusOK, c.Snapshot())
}

// Upsert handles PUT /api/shops.
func (h *ShopsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var def model.ShopDefinition
	if err := decodeJSON(r, &def); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := def.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.Shops.Upsert(r.Context(), def)
	if errors.Is(err, shop.ErrShopkeeperTaken) {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to upsert shop", "shop", def.Tag, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save shop")
		return
	}

	slog.Info("shop definition saved", "operator", operator(r), "shop", def.Tag)
	jsonResponse(w, http.StatusOK, c.Snapshot())
}

// Restock handles POST /api/shops/{tag}/restock.
func (h *ShopsHandler) Restock(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	added, err := h.Restocker.RestockNow(r.Context(), tag)
	if errors.Is(err, shop.ErrShopNotFound) {
		jsonError(w, http.StatusNotFound, "shop not found")
		return
	}
	if err != nil {
		slog.Error("failed to restock shop", "shop", tag, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to restock shop")
		return
	}

	slog.Info("shop restocked by operator", "operator", operator(r), "shop", tag, "added", added)
	jsonResponse(w, http.StatusOK, map[string]int{"added": added})
}

// Price handles GET /api/shops/{tag}/products/{id}/price.
func (h *ShopsHandler) Price(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	c, ok := h.Shops.TryGet(r.PathValue("tag"))
	if !ok {
		jsonError(w, http.StatusNotFound, "shop not found")
		return
	}

	buyer := r.URL.Query().Get("buyer")
	price, ok := h.Prices.CalculatePrice(c, id, buyer)
	if !ok {
		jsonError(w, http.StatusNotFound, "product not found")
		return
	}
	jsonResponse(w, http.StatusOK, priceResponse{ShopTag: c.Tag(), ProductID: id, Buyer: buyer, Price: price})
}

// Purchase handles POST /api/shops/{tag}/purchases.
func (h *ShopsHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := model.ParsePersonaID(req.Buyer); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	tag := r.PathValue("tag")
	receipt, err := h.Checkout.Buy(r.Context(), tag, req.ProductID, req.Quantity, req.Buyer)
	if err != nil {
		status := shopErrorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("purchase failed", "shop", tag, "product", req.ProductID, "buyer", req.Buyer, "error", err)
			jsonError(w, status, "purchase failed")
			return
		}
		jsonError(w, status, err.Error())
		return
	}

	slog.Info("purchase completed", "operator", operator(r), "shop", tag, "buyer", req.Buyer, "total", receipt.Total)
	jsonResponse(w, http.StatusCreated, receipt)
}

func shopErrorStatus(err error) int {
	switch {
	case errors.Is(err, shop.ErrShopNotFound), errors.Is(err, shop.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, shop.ErrSoldOut), errors.Is(err, shop.ErrCannotAfford):
		return http.StatusConflict
	case errors.Is(err, shop.ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
