package handler

import (
	"net/http"
	"strconv"

	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
)

// NewUsageHandler returns the handler for GET /api/v1/usage.
//
// @Summary Usage summary for the caller's tenant
// @Tags usage
// @Produce json
// @Success 200 {object} models.UsageStats
// @Failure 503 {object} map[string]interface{}
// @Security BearerAuth
// @Router /usage [get]
func NewUsageHandler(quotas QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		stats, err := quotas.GetUsageStats(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, stats)
	}
}

// NewCheckLimitHandler returns the handler for GET /api/v1/usage/check.
// A denied check is still a 200; the body says whether it was allowed.
//
// @Summary Check whether a generation would fit the quota
// @Tags usage
// @Produce json
// @Param count query int true "number of generations"
// @Success 200 {object} quota.LimitResult
// @Failure 400 {object} map[string]interface{}
// @Security BearerAuth
// @Router /usage/check [get]
func NewCheckLimitHandler(quotas QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		count, err := strconv.Atoi(r.URL.Query().Get("count"))
		if err != nil || count < 1 {
			badRequest(w, "count must be a positive integer")
			return
		}

		res, err := quotas.CheckLimit(r.Context(), tenantID, count)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}
