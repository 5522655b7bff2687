package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (app *application) routes() http.Handler {
	standard := alice.New(app.recoverPanic, app.logRequest, secureHeaders, app.metricsMiddleware)
	api := standard.Append(makeResponseJSON)
	auth := api.Append(app.requireUser)

	mux := pat.New()

	// Billing
	mux.Post("/billing/google/verify", auth.ThenFunc(app.billingHandler.VerifyPurchase))
	mux.Post("/billing/google/notifications", api.ThenFunc(app.billingHandler.GoogleNotifications))
	mux.Get("/billing/entitlement", auth.ThenFunc(app.billingHandler.GetEntitlement))
	mux.Post("/billing/device_token", auth.ThenFunc(app.billingHandler.RegisterDeviceToken))

	// Realtime entitlement events (websocket; no JSON content type)
	mux.Get("/billing/events", standard.Append(app.requireUser).ThenFunc(app.entitlementSocket))

	// Ops
	mux.Get("/metrics", standard.Then(promhttp.Handler()))
	mux.Get("/healthz", api.ThenFunc(app.healthz))

	return mux
}
