package main

import (
	"log/slog"
	"net/http"

	"github.com/snapsell/backend/internal/account"
	"github.com/snapsell/backend/internal/auth"
	"github.com/snapsell/backend/internal/billing"
	"github.com/snapsell/backend/internal/config"
	"github.com/snapsell/backend/internal/listings"
	"github.com/snapsell/backend/internal/metrics"
	"github.com/snapsell/backend/internal/middleware"
	"github.com/snapsell/backend/internal/router"
)

// registerRoutes wires the full HTTP surface. Signup, login, the anonymous
// taste and the Stripe webhook are public; everything else under /v1 needs a
// bearer token; /metrics carries its own basic auth.
func registerRoutes(
	mux *http.ServeMux,
	cfg *config.Config,
	authSvc auth.Service,
	authHandler *auth.Handler,
	accountHandler *account.Handler,
	listingsHandler *listings.Handler,
	billingHandler *billing.Handler,
	logger *slog.Logger,
) {
	authed := middleware.BearerAuth(authSvc, logger)

	mux.HandleFunc("POST /v1/auth/signup", authHandler.Signup)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)

	mux.HandleFunc("POST /v1/anonymous/analyze", listingsHandler.AnonymousAnalyze)
	mux.HandleFunc("GET /v1/anonymous/quota", listingsHandler.AnonymousQuota)

	// Public: authentication is the Stripe signature.
	mux.HandleFunc("POST /v1/billing/webhook", billingHandler.Webhook)

	mux.Handle("GET /v1/me", authed(http.HandlerFunc(accountHandler.Me)))
	mux.Handle("GET /v1/entitlements", authed(http.HandlerFunc(accountHandler.Entitlements)))
	mux.Handle("POST /v1/entitlements/nudge-dismissal", authed(http.HandlerFunc(accountHandler.DismissNudge)))

	mux.Handle("POST /v1/listings/analyze", authed(http.HandlerFunc(listingsHandler.Analyze)))
	mux.Handle("POST /v1/listings", authed(http.HandlerFunc(listingsHandler.SaveListing)))
	mux.Handle("GET /v1/listings", authed(http.HandlerFunc(listingsHandler.List)))
	mux.Handle("GET /v1/listings/{id}", authed(http.HandlerFunc(listingsHandler.Get)))
	mux.Handle("PUT /v1/listings/{id}", authed(http.HandlerFunc(listingsHandler.Update)))
	mux.Handle("DELETE /v1/listings/{id}", authed(http.HandlerFunc(listingsHandler.Delete)))

	mux.Handle("POST /v1/billing/checkout", authed(http.HandlerFunc(billingHandler.Checkout)))
	mux.Handle("GET /v1/billing/payments/{id}", authed(http.HandlerFunc(billingHandler.PaymentStatus)))

	mux.HandleFunc("GET /health", health)
	mux.Handle("GET /metrics", metrics.Handler(cfg.MetricsUsername, cfg.MetricsPassword))
}

func health(w http.ResponseWriter, r *http.Request) {
	router.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
