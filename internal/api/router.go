package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studioai/studio-bff/internal/api/handler"
	mw "github.com/studioai/studio-bff/internal/api/middleware"
	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/internal/metrics"
)

// AdminScope is the API key scope required by the operator routes.
const AdminScope = "admin"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	FirebaseAuth *mw.FirebaseAuth
	APIKeyAuth   *mw.APIKeyAuth
	RateLimit    *mw.RateLimit
	Metrics      *metrics.Metrics

	HealthHandler       http.HandlerFunc
	RelayHandler        http.HandlerFunc
	SubmitHandler       http.HandlerFunc
	StatusHandler       http.HandlerFunc
	ResultHandler       http.HandlerFunc
	BalanceHandler      http.HandlerFunc
	HistoryHandler      http.HandlerFunc
	CreditHandler       http.HandlerFunc
	AdminAccountHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.CORS)
	if deps.Metrics != nil {
		r.Use(mw.Metrics(deps.Metrics))
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		// Public routes, limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)

			r.Post("/bff", orNotImplemented(deps.RelayHandler))
			r.Post("/ai-tool/status", orNotImplemented(deps.StatusHandler))
		})

		// Firebase-authenticated routes, limited per IP before the token
		// is verified and per user after
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)
			r.Use(deps.FirebaseAuth.Authenticate)
			r.Use(deps.RateLimit.Limit)

			r.Post("/ai-tool/request", orNotImplemented(deps.SubmitHandler))
			r.Post("/ai-tool/result", orNotImplemented(deps.ResultHandler))
			r.Get("/ai-tool/history", orNotImplemented(deps.HistoryHandler))
			r.Get("/account", orNotImplemented(deps.BalanceHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.APIKeyAuth.Authenticate)
			r.Use(deps.APIKeyAuth.RequireScope(AdminScope))
			r.Use(deps.RateLimit.Limit)

			r.Get("/admin/accounts/{userID}", orNotImplemented(deps.AdminAccountHandler))
			r.Post("/admin/accounts/{userID}/credits", orNotImplemented(deps.CreditHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
