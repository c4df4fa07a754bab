// Package api exposes the market to operators over HTTP.
package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/bazaar/internal/auth"
	"github.com/erazemk/bazaar/internal/reeve"
	"github.com/erazemk/bazaar/internal/shop"
	"github.com/erazemk/bazaar/internal/stall"
)

// Services are the market components behind the API.
type Services struct {
	DB        *sql.DB
	Shops     *shop.Repository
	Prices    *shop.PriceCalculator
	Restocker *shop.Restocker
	Checkout  *shop.Checkout
	Ledger    *stall.Ledger
	Lockup    *reeve.LockupService
	Recipient reeve.Recipient
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(svc Services, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	shopsHandler := &ShopsHandler{Shops: svc.Shops, Prices: svc.Prices, Restocker: svc.Restocker, Checkout: svc.Checkout}
	stallsHandler := &StallsHandler{DB: svc.DB, Ledger: svc.Ledger}
	reeveHandler := &ReeveHandler{Lockup: svc.Lockup, Recipient: svc.Recipient}

	authMW := AuthMiddleware(jwtSecret)
	requireRead := RequireScope(auth.ScopeRead)
	requireAdmin := RequireScope(auth.ScopeAdmin)

	read := func(h http.HandlerFunc) http.Handler { return authMW(requireRead(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Shops.
	mux.Handle("GET /api/shops", read(shopsHandler.List))
	mux.Handle("PUT /api/shops", admin(shopsHandler.Upsert))
	mux.Handle("GET /api/shops/{tag}", read(shopsHandler.Get))
	mux.Handle("POST /api/shops/{tag}/restock", admin(shopsHandler.Restock))
	mux.Handle("GET /api/shops/{tag}/products/{id}/price", read(shopsHandler.Price))
	mux.Handle("POST /api/shops/{tag}/purchases", admin(shopsHandler.Purchase))

	// Stalls.
	mux.Handle("GET /api/stalls", read(stallsHandler.List))
	mux.Handle("GET /api/stalls/{id}", read(stallsHandler.Get))
	mux.Handle("POST /api/stalls/{id}/deposit", admin(stallsHandler.Deposit))
	mux.Handle("POST /api/stalls/{id}/withdraw", admin(stallsHandler.Withdraw))
	mux.Handle("POST /api/stalls/{id}/sales", admin(stallsHandler.Sale))

	// Market reeve.
	mux.Handle("GET /api/reeve", read(reeveHandler.List))
	mux.Handle("POST /api/reeve/release", admin(reeveHandler.Release))

	return mux
}
