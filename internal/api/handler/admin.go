package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/quota"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// NewQueueStatsHandler returns the handler for GET /api/v1/admin/queue/stats.
//
// @Summary Queue statistics
// @Tags admin
// @Produce json
// @Success 200 {object} models.QueueStats
// @Security BearerAuth
// @Router /admin/queue/stats [get]
func NewQueueStatsHandler(jobs JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobs.GetQueueStats(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, stats)
	}
}

type tierRequest struct {
	Tier models.Tier `json:"tier" example:"pro"`
}

// NewUpgradeTierHandler returns the handler for
// POST /api/v1/admin/tenants/{tenantID}/tier.
//
// @Summary Change a tenant's tier
// @Tags admin
// @Accept json
// @Produce json
// @Param tenantID path string true "tenant id (uuid)"
// @Param request body tierRequest true "new tier"
// @Success 200 {object} models.Usage
// @Failure 400 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/tenants/{tenantID}/tier [post]
func NewUpgradeTierHandler(quotas QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := quota.ParseTenantID(chi.URLParam(r, "tenantID"))
		if err != nil {
			badRequest(w, "tenantID must be a valid UUID")
			return
		}

		var req tierRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}

		usage, err := quotas.UpgradeTier(r.Context(), tenantID, req.Tier)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		slog.Info("tenant tier changed", "tenant_id", tenantID, "tier", usage.Tier)
		response.JSON(w, usage)
	}
}

// NewResetUsageHandler returns the handler for
// POST /api/v1/admin/tenants/{tenantID}/usage/reset.
//
// @Summary Start a new usage period for a tenant
// @Tags admin
// @Produce json
// @Param tenantID path string true "tenant id (uuid)"
// @Success 200 {object} models.Usage
// @Security BearerAuth
// @Router /admin/tenants/{tenantID}/usage/reset [post]
func NewResetUsageHandler(quotas QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := quota.ParseTenantID(chi.URLParam(r, "tenantID"))
		if err != nil {
			badRequest(w, "tenantID must be a valid UUID")
			return
		}

		usage, err := quotas.ResetMonthlyUsage(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		slog.Info("tenant usage reset", "tenant_id", tenantID)
		response.JSON(w, usage)
	}
}
