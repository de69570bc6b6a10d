// Package queue owns the job lifecycle: creation with batch splitting,
// exactly-once claiming, progress, completion, retry with backoff,
// cancellation, lease reclamation and expiry cleanup.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	maxBackoff     = time.Hour
	releaseTimeout = 5 * time.Second
)

// Options tunes the Manager. Zero fields take the defaults from NewManager.
type Options struct {
	BatchLimit    int
	JobTTL        time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	LeaseDuration time.Duration
	StatsCacheTTL time.Duration
}

// OptionsFromConfig maps the queue configuration onto Options.
func OptionsFromConfig(cfg config.QueueConfig) Options {
	return Options{
		BatchLimit:    cfg.BatchLimit,
		JobTTL:        cfg.JobTTL,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		LeaseDuration: cfg.LeaseDuration,
		StatsCacheTTL: cfg.StatsCacheTTL,
	}
}

// CreditReleaser gives back credits reserved for jobs that will never complete.
type CreditReleaser interface {
	Release(ctx context.Context, tenantID uuid.UUID, count int) error
}

// Manager is a data-access layer shared by any number of API handlers and
// workers. It holds no in-process job state.
type Manager struct {
	store   store.JobStore
	cache   cache.Cache
	credits CreditReleaser
	opts    Options
	now     func() time.Time
}

// NewManager creates a Manager. The cache and the releaser may be nil.
func NewManager(st store.JobStore, c cache.Cache, credits CreditReleaser, opts Options) *Manager {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 25
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = 24 * time.Hour
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 2 * time.Minute
	}
	return &Manager{
		store:   st,
		cache:   c,
		credits: credits,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueRequest describes work submitted on behalf of a user.
type EnqueueRequest struct {
	Type     models.JobType
	TenantID uuid.UUID
	UserID   string
	Items    []string
	Priority int
	// MaxRetries overrides the configured retry budget when set.
	MaxRetries *int
}

// EnqueueResult lists the created jobs. JobID is the first chunk's id and
// serves only as a UI handle for the whole request.
type EnqueueResult struct {
	JobID  uuid.UUID
	JobIDs []uuid.UUID
	Jobs   []*models.Job
}

// Enqueue persists the request as one queued job per BatchLimit items.
// All chunks are created atomically; each is then scheduled independently.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, req.Type)
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyInput
	}
	if req.TenantID == uuid.Nil || req.UserID == "" {
		return nil, ErrMissingOwner
	}

	maxRetries := m.opts.MaxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	now := m.now()
	var jobs []*models.Job
	var parentID *uuid.UUID
	for start := 0; start < len(req.Items); start += m.opts.BatchLimit {
		end := min(start+m.opts.BatchLimit, len(req.Items))
		chunk := append([]string(nil), req.Items[start:end]...)

		job := &models.Job{
			ID:         uuid.New(),
			ParentID:   parentID,
			TenantID:   req.TenantID,
			UserID:     req.UserID,
			Type:       req.Type,
			Status:     models.JobStatusQueued,
			Priority:   req.Priority,
			Input:      chunk,
			TotalCount: len(chunk),
			MaxRetries: maxRetries,
			RetryDelay: m.opts.RetryDelay,
			EligibleAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
			ExpiresAt:  now.Add(m.opts.JobTTL),
		}
		if parentID == nil {
			id := job.ID
			parentID = &id
		}
		jobs = append(jobs, job)
	}

	if err := m.store.CreateJobs(ctx, jobs); err != nil {
		return nil, m.storageErr("create jobs", err)
	}

	res := &EnqueueResult{JobID: jobs[0].ID, Jobs: jobs}
	for _, j := range jobs {
		res.JobIDs = append(res.JobIDs, j.ID)
		m.mirror(ctx, j)
	}
	m.invalidateStats(ctx)

	slog.Info("jobs enqueued", "job_id", res.JobID, "tenant_id", req.TenantID,
		"user_id", req.UserID, "type", req.Type, "items", len(req.Items), "chunks", len(jobs))
	return res, nil
}

// ClaimNext hands the highest-priority, oldest eligible queued job to the
// caller under a fresh claim. It returns (nil, nil) when nothing is waiting.
// Every later worker call on the job passes job.Claim().
func (m *Manager) ClaimNext(ctx context.Context) (*models.Job, error) {
	now := m.now()
	job, err := m.store.ClaimNextJob(ctx, now, now.Add(m.opts.LeaseDuration), uuid.New())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, m.storageErr("claim next job", err)
	}

	m.mirror(ctx, job)
	slog.Debug("job claimed", "job_id", job.ID, "type", job.Type, "retry_count", job.RetryCount)
	return job, nil
}

// UpdateProgress records progress for a processing job and appends partial
// output. Progress and processedCount may not go backwards.
func (m *Manager) UpdateProgress(ctx context.Context, claim models.Claim, progress, processedCount int, partial ...json.RawMessage) (*models.Job, error) {
	now := m.now()
	job, err := m.store.UpdateJob(ctx, claim.JobID, func(j *models.Job) error {
		if err := requireClaim(j, claim, "update progress"); err != nil {
			return err
		}
		switch {
		case progress < 0 || progress > 100:
			return fmt.Errorf("%w: progress %d outside 0-100", ErrInvalidProgress, progress)
		case processedCount < 0 || processedCount > j.TotalCount:
			return fmt.Errorf("%w: processed %d of %d items", ErrInvalidProgress, processedCount, j.TotalCount)
		case progress < j.Progress || processedCount < j.ProcessedCount:
			return fmt.Errorf("%w: progress may not decrease (%d/%d → %d/%d)",
				ErrInvalidProgress, j.Progress, j.ProcessedCount, progress, processedCount)
		}
		j.Progress = progress
		j.ProcessedCount = processedCount
		j.Output = append(j.Output, partial...)
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, m.mutationErr("update progress", err)
	}
	return job, nil
}

// Complete finishes a processing job and, in the same transaction, turns
// the credits reserved for it into used credits with a history entry. Either
// both happen or neither does. The result always reports 100% with every
// item processed, whatever the last progress update said.
func (m *Manager) Complete(ctx context.Context, claim models.Claim, output ...json.RawMessage) (*models.Job, error) {
	now := m.now()
	job, err := m.store.CompleteJob(ctx, claim.JobID, func(j *models.Job) (*models.GenerationEntry, error) {
		if err := requireClaim(j, claim, "complete"); err != nil {
			return nil, err
		}
		j.Status = models.JobStatusCompleted
		j.Progress = 100
		j.ProcessedCount = j.TotalCount
		j.Output = append(j.Output, output...)
		j.CompletedAt = &now
		j.LeaseExpiresAt = nil
		j.ClaimID = nil
		j.ProcessingTimeMs = processingTime(j, now)
		j.UpdatedAt = now

		id := j.ID
		return &models.GenerationEntry{
			ID:        uuid.New(),
			TenantID:  j.TenantID,
			JobID:     &id,
			Type:      j.Type,
			Count:     j.TotalCount,
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		return nil, m.mutationErr("complete job", err)
	}

	m.mirror(ctx, job)
	m.invalidateStats(ctx)
	slog.Info("job completed", "job_id", job.ID, "type", job.Type, "processing_time_ms", *job.ProcessingTimeMs)
	return job, nil
}

// Fail records a failure for a processing job. With shouldRetry and retries
// left the job goes back to queued, eligible again after an exponential
// backoff based on its retry delay; otherwise it fails permanently and its
// reserved credits are released.
func (m *Manager) Fail(ctx context.Context, claim models.Claim, errMsg string, shouldRetry bool) (*models.Job, error) {
	now := m.now()
	job, err := m.store.UpdateJob(ctx, claim.JobID, func(j *models.Job) error {
		if err := requireClaim(j, claim, "fail"); err != nil {
			return err
		}
		msg := errMsg
		j.Error = &msg
		j.LeaseExpiresAt = nil
		j.ClaimID = nil
		j.UpdatedAt = now

		if shouldRetry && j.RetryCount < j.MaxRetries {
			j.RetryCount++
			j.Status = models.JobStatusQueued
			j.EligibleAt = now.Add(Backoff(j.RetryDelay, j.RetryCount))
			return nil
		}
		j.Status = models.JobStatusFailed
		j.CompletedAt = &now
		j.ProcessingTimeMs = processingTime(j, now)
		return nil
	})
	if err != nil {
		return nil, m.mutationErr("fail job", err)
	}

	m.mirror(ctx, job)
	m.invalidateStats(ctx)
	if job.Status == models.JobStatusFailed {
		m.release(ctx, job)
		slog.Warn("job failed", "job_id", job.ID, "type", job.Type, "retry_count", job.RetryCount, "error", errMsg)
	} else {
		slog.Info("job requeued for retry", "job_id", job.ID, "retry_count", job.RetryCount,
			"eligible_at", job.EligibleAt, "error", errMsg)
	}
	return job, nil
}

// Cancel stops a queued or processing job. A worker running it notices on
// its next cancellation check and abandons the remaining items.
func (m *Manager) Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	now := m.now()
	job, err := m.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if err := requireStatus(j, "cancel", models.JobStatusQueued, models.JobStatusProcessing); err != nil {
			return err
		}
		j.Status = models.JobStatusCancelled
		j.CompletedAt = &now
		j.LeaseExpiresAt = nil
		j.ClaimID = nil
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, m.mutationErr("cancel job", err)
	}

	m.mirror(ctx, job)
	m.invalidateStats(ctx)
	m.release(ctx, job)
	slog.Info("job cancelled", "job_id", job.ID, "tenant_id", job.TenantID)
	return job, nil
}

// Heartbeat extends the lease held by claim. It reports ErrClaimLost once
// the job has left processing or been claimed again by another worker.
func (m *Manager) Heartbeat(ctx context.Context, claim models.Claim) error {
	now := m.now()
	err := m.store.RenewLease(ctx, claim, now.Add(m.opts.LeaseDuration), now)
	if errors.Is(err, store.ErrConditionFailed) {
		return fmt.Errorf("%w: job %s", ErrClaimLost, claim.JobID)
	}
	if err != nil {
		return m.storageErr("renew lease", err)
	}
	return nil
}

// IsCancelled reports whether the job was cancelled or has disappeared.
// The cache mirror answers first; the store is the fallback.
func (m *Manager) IsCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if m.cache != nil {
		status, found, err := m.cache.GetJobStatus(ctx, jobID)
		if err == nil && found && status == models.JobStatusCancelled {
			return true, nil
		}
	}

	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, m.storageErr("get job", err)
	}
	return job.Status == models.JobStatusCancelled, nil
}

// GetJob returns the job. A job past its expiry reads as not found even
// before the cleanup sweep removes it, unless it is still processing.
func (m *Manager) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, m.storageErr("get job", err)
	}
	if job.Status != models.JobStatusProcessing && job.ExpiresAt.Before(m.now()) {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// GetUserJobs returns progress views of the user's queued and processing
// jobs, newest first.
func (m *Manager) GetUserJobs(ctx context.Context, tenantID uuid.UUID, userID string, limit int) ([]models.JobProgress, error) {
	jobs, err := m.store.ListJobs(ctx, store.JobFilter{
		TenantID: tenantID,
		UserID:   userID,
		Statuses: []models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing},
		Limit:    limit,
	})
	if err != nil {
		return nil, m.storageErr("list user jobs", err)
	}

	now := m.now()
	views := make([]models.JobProgress, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, ToProgress(j, now))
	}
	return views, nil
}

// GetJobHistory returns full job records for the user, newest first,
// optionally restricted to one status.
func (m *Manager) GetJobHistory(ctx context.Context, tenantID uuid.UUID, userID string, limit int, status *models.JobStatus) ([]*models.Job, error) {
	filter := store.JobFilter{TenantID: tenantID, UserID: userID, Limit: limit}
	if status != nil {
		if !validStatus(*status) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *status)
		}
		filter.Statuses = []models.JobStatus{*status}
	}

	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, m.storageErr("list job history", err)
	}
	return jobs, nil
}

// CleanupExpiredJobs deletes every job past its expiry except those still
// processing, and returns how many were removed. Credits reserved by queued
// jobs that expire unprocessed are released.
func (m *Manager) CleanupExpiredJobs(ctx context.Context) (int, error) {
	deleted, err := m.store.DeleteExpiredJobs(ctx, m.now())
	if err != nil {
		return 0, m.storageErr("delete expired jobs", err)
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(deleted))
	for _, j := range deleted {
		keys = append(keys, cache.JobStatusKey(j.ID))
		if j.Status == models.JobStatusQueued {
			m.release(ctx, j)
		}
	}
	if m.cache != nil {
		if err := m.cache.Delete(ctx, keys...); err != nil {
			slog.Warn("failed to evict expired job mirrors", "error", err, "count", len(keys))
		}
	}
	m.invalidateStats(ctx)

	slog.Info("expired jobs removed", "count", len(deleted))
	return len(deleted), nil
}

// RequeueStale reclaims processing jobs whose worker stopped renewing the
// lease. Jobs with retries left go back to queued; the rest fail.
func (m *Manager) RequeueStale(ctx context.Context) (int, error) {
	stale, err := m.store.RequeueStaleJobs(ctx, m.now())
	if err != nil {
		return 0, m.storageErr("requeue stale jobs", err)
	}

	for _, j := range stale {
		m.mirror(ctx, j)
		if j.Status == models.JobStatusFailed {
			m.release(ctx, j)
		}
		slog.Warn("reclaimed job with expired lease", "job_id", j.ID, "status", j.Status, "retry_count", j.RetryCount)
	}
	if len(stale) > 0 {
		m.invalidateStats(ctx)
	}
	return len(stale), nil
}

// GetQueueStats counts jobs by status. Results are cached briefly.
func (m *Manager) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	if m.cache != nil && m.opts.StatsCacheTTL > 0 {
		if raw, found, err := m.cache.Get(ctx, cache.QueueStatsKey); err == nil && found {
			var stats models.QueueStats
			if json.Unmarshal(raw, &stats) == nil {
				return &stats, nil
			}
		}
	}

	counts, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, m.storageErr("count jobs", err)
	}

	stats := &models.QueueStats{
		Queued:     counts[models.JobStatusQueued],
		Processing: counts[models.JobStatusProcessing],
		Completed:  counts[models.JobStatusCompleted],
		Failed:     counts[models.JobStatusFailed],
		Cancelled:  counts[models.JobStatusCancelled],
	}
	stats.Total = stats.Queued + stats.Processing + stats.Completed + stats.Failed + stats.Cancelled

	if m.cache != nil && m.opts.StatsCacheTTL > 0 {
		if raw, err := json.Marshal(stats); err == nil {
			_ = m.cache.Set(ctx, cache.QueueStatsKey, raw, m.opts.StatsCacheTTL)
		}
	}
	return stats, nil
}

// Backoff returns the delay before retry number retryCount (1-based):
// base, 2×base, 4×base, … capped at one hour.
func Backoff(base time.Duration, retryCount int) time.Duration {
	if base <= 0 || retryCount < 1 {
		return 0
	}
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return min(d, maxBackoff)
}

func requireStatus(j *models.Job, op string, allowed ...models.JobStatus) error {
	for _, s := range allowed {
		if j.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s job %s in status %s", ErrInvalidTransition, op, j.ID, j.Status)
}

// requireClaim admits only the worker holding the job's current claim.
func requireClaim(j *models.Job, claim models.Claim, op string) error {
	if err := requireStatus(j, op, models.JobStatusProcessing); err != nil {
		return err
	}
	if !j.Holds(claim) {
		return fmt.Errorf("%w: cannot %s job %s", ErrClaimLost, op, j.ID)
	}
	return nil
}

func validStatus(s models.JobStatus) bool {
	for _, known := range models.JobStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func processingTime(j *models.Job, now time.Time) *int64 {
	if j.StartedAt == nil {
		return nil
	}
	ms := now.Sub(*j.StartedAt).Milliseconds()
	return &ms
}

// mirror copies the job's status into the cache until the job expires.
func (m *Manager) mirror(ctx context.Context, j *models.Job) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetJobStatus(ctx, j.ID, j.Status, j.ExpiresAt.Sub(m.now())); err != nil {
		slog.Warn("failed to mirror job status", "job_id", j.ID, "status", j.Status, "error", err)
	}
}

func (m *Manager) invalidateStats(ctx context.Context) {
	if m.cache == nil {
		return
	}
	_ = m.cache.Delete(ctx, cache.QueueStatsKey)
}

// release hands back the credits reserved for j, which equal its item count.
// The job's transition is already committed, so the release outlives a
// cancelled caller.
func (m *Manager) release(ctx context.Context, j *models.Job) {
	if m.credits == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := m.credits.Release(ctx, j.TenantID, j.TotalCount); err != nil {
		slog.Error("failed to release job credits", "job_id", j.ID, "tenant_id", j.TenantID,
			"count", j.TotalCount, "error", err)
	}
}

// mutationErr passes lifecycle errors through and classifies store failures.
func (m *Manager) mutationErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrJobNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidProgress):
		return err
	case errors.Is(err, store.ErrNoUsage):
		return fmt.Errorf("%s: %w", op, ErrNoUsageRecord)
	default:
		return m.storageErr(op, err)
	}
}

func (m *Manager) storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
