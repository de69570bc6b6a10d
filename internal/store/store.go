package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConditionFailed is returned when a conditional update matched no row
// because its guard (status, quota ceiling, period) no longer held.
var ErrConditionFailed = errors.New("conditional update did not match")

// ErrNoUsage is returned when credits are committed for a tenant that has
// no usage record.
var ErrNoUsage = errors.New("tenant has no usage record")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	JobStore
	UsageStore
}

// JobStore persists jobs. Every mutation of a single job is atomic.
type JobStore interface {
	// CreateJobs inserts all jobs in one transaction.
	CreateJobs(ctx context.Context, jobs []*models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ClaimNextJob moves the highest-priority, oldest eligible queued job to
	// processing in a single statement and stamps it with claimID. Returns
	// ErrNotFound when none is eligible.
	ClaimNextJob(ctx context.Context, now, leaseUntil time.Time, claimID uuid.UUID) (*models.Job, error)
	// UpdateJob locks the row, applies fn to it and writes back the mutable
	// fields. An error from fn aborts the update and is returned as is.
	UpdateJob(ctx context.Context, id uuid.UUID, fn func(*models.Job) error) (*models.Job, error)
	// CompleteJob applies fn like UpdateJob and, in the same transaction,
	// commits the ledger entry fn returns: entry.Count reserved credits become
	// used and the entry is appended to the history. Returns ErrNoUsage when
	// the tenant has no usage record, leaving the job untouched.
	CompleteJob(ctx context.Context, id uuid.UUID, fn func(*models.Job) (*models.GenerationEntry, error)) (*models.Job, error)
	// RenewLease extends the lease only while claim is still the job's
	// current claim. Returns ErrConditionFailed otherwise.
	RenewLease(ctx context.Context, claim models.Claim, leaseUntil, now time.Time) error
	// RequeueStaleJobs recycles processing jobs whose lease lapsed before now,
	// or fails them when no retries remain.
	RequeueStaleJobs(ctx context.Context, now time.Time) ([]*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	// DeleteExpiredJobs removes every non-processing job with expires_at before now.
	DeleteExpiredJobs(ctx context.Context, now time.Time) ([]*models.Job, error)
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

// UsageStore is the admission-control ledger. Counter changes are SQL-side
// increments, never read-modify-write in application code.
type UsageStore interface {
	// GetOrCreateUsage returns the tenant's record, inserting initial if none exists.
	GetOrCreateUsage(ctx context.Context, initial *models.Usage) (*models.Usage, error)
	// ReserveCredits adds count to the reservation only if the ceiling holds.
	// Returns ErrConditionFailed when it would not.
	ReserveCredits(ctx context.Context, tenantID uuid.UUID, count int, now time.Time) (*models.Usage, error)
	ReleaseCredits(ctx context.Context, tenantID uuid.UUID, count int, now time.Time) (*models.Usage, error)
	// ConsumeCredits commits entry.Count credits, converting up to that many
	// reserved credits, and appends entry to the history in one transaction.
	ConsumeCredits(ctx context.Context, entry *models.GenerationEntry) (*models.Usage, error)
	// ResetUsage zeroes the counters and moves the window, guarded on the
	// period start the caller observed.
	ResetUsage(ctx context.Context, tenantID uuid.UUID, observedStart, start, end, now time.Time) (*models.Usage, error)
	SetTier(ctx context.Context, tenantID uuid.UUID, tier models.Tier, limit int, now time.Time) (*models.Usage, error)
	SumGenerationsByType(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (map[models.JobType]int, error)
	SumGenerations(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	TenantID uuid.UUID
	UserID   string
	Statuses []models.JobStatus
	Limit    int
}
