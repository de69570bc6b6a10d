// Package handler implements the HTTP handlers of the generation API.
// Each constructor returns an http.HandlerFunc bound to the services it needs.
package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/quota"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// JobService is the part of the queue manager the API uses.
type JobService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.EnqueueResult, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	GetUserJobs(ctx context.Context, tenantID uuid.UUID, userID string, limit int) ([]models.JobProgress, error)
	GetJobHistory(ctx context.Context, tenantID uuid.UUID, userID string, limit int, status *models.JobStatus) ([]*models.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	GetQueueStats(ctx context.Context) (*models.QueueStats, error)
}

// QuotaService is the admission controller as seen by the API.
type QuotaService interface {
	CheckLimit(ctx context.Context, tenantID uuid.UUID, requested int) (*quota.LimitResult, error)
	Reserve(ctx context.Context, tenantID uuid.UUID, count int) (*quota.Reservation, error)
	Release(ctx context.Context, tenantID uuid.UUID, count int) error
	GetUsageStats(ctx context.Context, tenantID uuid.UUID) (*models.UsageStats, error)
	UpgradeTier(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (*models.Usage, error)
	ResetMonthlyUsage(ctx context.Context, tenantID uuid.UUID) (*models.Usage, error)
}

// KeyStore manages API keys.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ JobService   = (*queue.Manager)(nil)
	_ QuotaService = (*quota.Controller)(nil)
)
