package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, requestID, app.logRequest, app.metrics.Instrument, secureHeaders, makeResponseJSON)
	// The general limiter runs before authentication, keyed by client IP, so
	// guessing keys is throttled. The purchase limiter sees the verified key.
	apiMiddleware := standardMiddleware.Append(app.generalLimiter.Handler, app.requireAPIKey)
	purchaseMiddleware := apiMiddleware.Append(app.purchaseLimiter.Handler)
	publicMiddleware := standardMiddleware.Append(app.generalLimiter.Handler)
	adminMiddleware := standardMiddleware.Append(app.generalLimiter.Handler, app.requireAdmin)

	mux := pat.New()

	// Steam
	mux.Post("/steam/user/reliability", apiMiddleware.ThenFunc(app.steamHandler.CheckUserReliability))
	mux.Post("/steam/app/ownership", apiMiddleware.ThenFunc(app.steamHandler.CheckAppOwnership))
	mux.Post("/steam/purchase/init", purchaseMiddleware.ThenFunc(app.steamHandler.InitPurchase))
	mux.Post("/steam/purchase/finalize", purchaseMiddleware.ThenFunc(app.steamHandler.FinalizePurchase))
	mux.Post("/steam/purchase/status", apiMiddleware.ThenFunc(app.steamHandler.CheckPurchaseStatus))

	// Currencies
	mux.Get("/currencies", standardMiddleware.ThenFunc(app.currencyHandler.ListCurrencies))
	mux.Get("/currencies/:code", standardMiddleware.ThenFunc(app.currencyHandler.GetCurrencyDefaults))

	// Catalog
	mux.Get("/products", publicMiddleware.ThenFunc(app.productHandler.ListProducts))
	mux.Post("/admin/products", adminMiddleware.ThenFunc(app.productHandler.CreateProduct))
	mux.Put("/admin/products/:id", adminMiddleware.ThenFunc(app.productHandler.UpdateProduct))
	mux.Del("/admin/products/:id", adminMiddleware.ThenFunc(app.productHandler.DeleteProduct))

	// Admin
	mux.Get("/admin/itemdef", adminMiddleware.ThenFunc(app.itemDefHandler.Preview))
	mux.Post("/admin/itemdef/publish", adminMiddleware.ThenFunc(app.itemDefHandler.Publish))
	mux.Get("/admin/transactions", adminMiddleware.ThenFunc(app.transactionHandler.ListTransactions))

	// Stream, metrics, health
	mux.Get("/ws/purchases", alice.New(app.recoverPanic, app.logRequest, app.generalLimiter.Handler, app.requireAdminStream).ThenFunc(app.hub.ServeWS))
	mux.Get("/metrics", app.metrics.Handler())
	mux.Get("/", standardMiddleware.ThenFunc(app.health))

	return mux
}
