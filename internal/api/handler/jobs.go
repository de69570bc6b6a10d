package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// MaxItemsPerRequest caps a single submission. Larger requests are split by
// the caller.
const MaxItemsPerRequest = 1000

const maxListLimit = 100

const releaseTimeout = 5 * time.Second

type createJobRequest struct {
	Type       models.JobType `json:"type" example:"generate_questions"`
	Items      []string       `json:"items"`
	Priority   int            `json:"priority"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

type createJobResponse struct {
	JobID            uuid.UUID   `json:"job_id"`
	JobIDs           []uuid.UUID `json:"job_ids"`
	Chunks           int         `json:"chunks"`
	TotalItems       int         `json:"total_items"`
	RemainingCredits int         `json:"remaining_credits"`
}

// jobResponse adds derived fields to the stored job.
type jobResponse struct {
	*models.Job
	RetryDelayMs           int64  `json:"retry_delay_ms"`
	EstimatedTimeRemaining *int64 `json:"estimated_time_remaining,omitempty"`
}

func newJobResponse(j *models.Job, now time.Time) jobResponse {
	return jobResponse{
		Job:                    j,
		RetryDelayMs:           j.RetryDelay.Milliseconds(),
		EstimatedTimeRemaining: queue.EstimateTimeRemaining(j, now),
	}
}

// NewCreateJobHandler returns the handler for POST /api/v1/jobs. Credits for
// every item are reserved before the job is queued and handed back if
// queueing fails.
//
// @Summary Submit a generation job
// @Description Checks the tenant quota, reserves one credit per item and queues the work in chunks.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobRequest true "job payload"
// @Success 202 {object} createJobResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 402 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Security BearerAuth
// @Router /jobs [post]
func NewCreateJobHandler(jobs JobService, quotas QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}
		userID, _ := mw.GetUserID(r)

		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		if !req.Type.Valid() {
			badRequest(w, fmt.Sprintf("unknown job type %q", req.Type))
			return
		}
		if len(req.Items) == 0 {
			badRequest(w, "items must contain at least one entry")
			return
		}
		if len(req.Items) > MaxItemsPerRequest {
			badRequest(w, fmt.Sprintf("items must not exceed %d entries", MaxItemsPerRequest))
			return
		}
		if req.MaxRetries != nil && *req.MaxRetries < 0 {
			badRequest(w, "max_retries must not be negative")
			return
		}

		count := len(req.Items)
		limit, err := quotas.CheckLimit(r.Context(), tenantID, count)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !limit.Allowed {
			response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", limit.Message,
				map[string]int{"requested": count, "available": limit.Remaining})
			return
		}

		reservation, err := quotas.Reserve(r.Context(), tenantID, count)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		res, err := jobs.Enqueue(r.Context(), queue.EnqueueRequest{
			Type:       req.Type,
			TenantID:   tenantID,
			UserID:     userID,
			Items:      req.Items,
			Priority:   req.Priority,
			MaxRetries: req.MaxRetries,
		})
		if err != nil {
			// The client may already be gone; the credits still go back.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), releaseTimeout)
			rerr := quotas.Release(releaseCtx, tenantID, count)
			cancel()
			if rerr != nil {
				slog.Error("release credits after failed enqueue", "tenant_id", tenantID,
					"count", count, "error", rerr)
			}
			writeServiceError(w, r, err)
			return
		}

		response.Accepted(w, createJobResponse{
			JobID:            res.JobID,
			JobIDs:           res.JobIDs,
			Chunks:           len(res.JobIDs),
			TotalItems:       count,
			RemainingCredits: reservation.Usage.Remaining(),
		})
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs: the caller's
// queued and processing jobs as progress views.
//
// @Summary List active jobs
// @Tags jobs
// @Produce json
// @Param limit query int false "max results (1-100)"
// @Success 200 {array} models.JobProgress
// @Security BearerAuth
// @Router /jobs [get]
func NewListJobsHandler(jobs JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}
		userID, _ := mw.GetUserID(r)

		limit, err := parseLimit(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		views, err := jobs.GetUserJobs(r.Context(), tenantID, userID, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, views)
	}
}

// NewJobHistoryHandler returns the handler for GET /api/v1/jobs/history.
//
// @Summary Job history
// @Tags jobs
// @Produce json
// @Param status query string false "filter by status"
// @Param limit query int false "max results (1-100)"
// @Success 200 {array} jobResponse
// @Security BearerAuth
// @Router /jobs/history [get]
func NewJobHistoryHandler(jobs JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}
		userID, _ := mw.GetUserID(r)

		limit, err := parseLimit(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		var status *models.JobStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			s := models.JobStatus(raw)
			status = &s
		}

		list, err := jobs.GetJobHistory(r.Context(), tenantID, userID, limit, status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		now := time.Now()
		out := make([]jobResponse, 0, len(list))
		for _, j := range list {
			out = append(out, newJobResponse(j, now))
		}
		response.JSON(w, out)
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
// Jobs of other tenants and expired jobs are reported as not found.
//
// @Summary Get a job
// @Tags jobs
// @Produce json
// @Param jobID path string true "job id (uuid)"
// @Success 200 {object} jobResponse
// @Failure 404 {object} map[string]interface{}
// @Security BearerAuth
// @Router /jobs/{jobID} [get]
func NewGetJobHandler(jobs JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, jobs)
		if !ok {
			return
		}
		response.JSON(w, newJobResponse(job, time.Now()))
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
//
// @Summary Cancel a job
// @Tags jobs
// @Produce json
// @Param jobID path string true "job id (uuid)"
// @Success 200 {object} jobResponse
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /jobs/{jobID}/cancel [post]
func NewCancelJobHandler(jobs JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, jobs)
		if !ok {
			return
		}

		cancelled, err := jobs.Cancel(r.Context(), job.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, newJobResponse(cancelled, time.Now()))
	}
}

// ownedJob loads the job named in the path and checks it belongs to the
// caller's tenant. It writes the error response itself.
func ownedJob(w http.ResponseWriter, r *http.Request, jobs JobService) (*models.Job, bool) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		missingTenant(w)
		return nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "jobID must be a valid UUID")
		return nil, false
	}

	job, err := jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if job.TenantID != tenantID {
		writeServiceError(w, r, queue.ErrJobNotFound)
		return nil, false
	}
	return job, true
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", maxListLimit)
	}
	return n, nil
}
