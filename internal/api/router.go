package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateJobHandler  http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
	JobHistoryHandler http.HandlerFunc
	GetJobHandler     http.HandlerFunc
	CancelJobHandler  http.HandlerFunc

	UsageHandler      http.HandlerFunc
	CheckLimitHandler http.HandlerFunc

	QueueStatsHandler  http.HandlerFunc
	UpgradeTierHandler http.HandlerFunc
	ResetUsageHandler  http.HandlerFunc
	CreateKeyHandler   http.HandlerFunc
	ListKeysHandler    http.HandlerFunc
	RevokeKeyHandler   http.HandlerFunc

	// ServeDocs mounts the OpenAPI UI at /swagger/*.
	ServeDocs bool
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.ServeDocs {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateJobHandler))
			r.Get("/", orNotImplemented(deps.ListJobsHandler))
			r.Get("/history", orNotImplemented(deps.JobHistoryHandler))
			r.Get("/{jobID}", orNotImplemented(deps.GetJobHandler))
			r.Post("/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
		})

		r.Get("/api/v1/usage", orNotImplemented(deps.UsageHandler))
		r.Get("/api/v1/usage/check", orNotImplemented(deps.CheckLimitHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/admin/queue/stats", orNotImplemented(deps.QueueStatsHandler))
			r.Post("/api/v1/admin/tenants/{tenantID}/tier", orNotImplemented(deps.UpgradeTierHandler))
			r.Post("/api/v1/admin/tenants/{tenantID}/usage/reset", orNotImplemented(deps.ResetUsageHandler))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
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
