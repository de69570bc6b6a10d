package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType selects the pipeline stage a worker must run for a job.
type JobType string

const (
	JobTypeResearchSite          JobType = "research_site"
	JobTypeGenerateCategories    JobType = "generate_categories"
	JobTypeGenerateSubcategories JobType = "generate_subcategories"
	JobTypeGenerateQuestions     JobType = "generate_questions"
	JobTypeGenerateDraft         JobType = "generate_draft"
	JobTypeFactCheck             JobType = "fact_check"
)

// JobTypes lists every pipeline stage in a stable order.
var JobTypes = []JobType{
	JobTypeResearchSite,
	JobTypeGenerateCategories,
	JobTypeGenerateSubcategories,
	JobTypeGenerateQuestions,
	JobTypeGenerateDraft,
	JobTypeFactCheck,
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a Job.
//
//	queued ──► processing ──► completed
//	  ▲            │
//	  └── retry ───┼────────► failed
//	               └────────► cancelled   (cancel is also allowed from queued)
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// Terminal reports whether no further transition is possible from s.
// A failed job is only terminal once its retries are exhausted, and in that
// case it is stored as failed; a retried failure is stored as queued.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active reports whether the job is still waiting or running.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Job is a unit of asynchronous generation work. Type and Input never change
// after creation; only status, progress, output and retry fields mutate.
type Job struct {
	ID               uuid.UUID         `db:"id"                 json:"id"`
	ParentID         *uuid.UUID        `db:"parent_id"          json:"parent_id,omitempty"`
	TenantID         uuid.UUID         `db:"tenant_id"          json:"tenant_id"`
	UserID           string            `db:"user_id"            json:"user_id"`
	Type             JobType           `db:"type"               json:"type"`
	Status           JobStatus         `db:"status"             json:"status"`
	Priority         int               `db:"priority"           json:"priority"`
	Input            []string          `db:"input"              json:"input"`
	Output           []json.RawMessage `db:"output"             json:"output"`
	Progress         int               `db:"progress"           json:"progress"`
	ProcessedCount   int               `db:"processed_count"    json:"processed_count"`
	TotalCount       int               `db:"total_count"        json:"total_count"`
	RetryCount       int               `db:"retry_count"        json:"retry_count"`
	MaxRetries       int               `db:"max_retries"        json:"max_retries"`
	RetryDelay       time.Duration     `db:"retry_delay_ms"     json:"-"`
	Error            *string           `db:"error_message"      json:"error,omitempty"`
	EligibleAt       time.Time         `db:"eligible_at"        json:"eligible_at"`
	LeaseExpiresAt   *time.Time        `db:"lease_expires_at"   json:"lease_expires_at,omitempty"`
	ClaimID          *uuid.UUID        `db:"claim_id"           json:"-"`
	ProcessingTimeMs *int64            `db:"processing_time_ms" json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time         `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at"         json:"updated_at"`
	StartedAt        *time.Time        `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt      *time.Time        `db:"completed_at"       json:"completed_at,omitempty"`
	ExpiresAt        time.Time         `db:"expires_at"         json:"expires_at"`
}

// Claim identifies one worker's hold on a processing job. Every claim gets a
// fresh token, so a worker whose lease was reclaimed can no longer touch the
// job once another worker has picked it up.
type Claim struct {
	JobID uuid.UUID
	Token uuid.UUID
}

// Claim returns the job's current claim. Jobs that are not processing have
// a zero token.
func (j *Job) Claim() Claim {
	c := Claim{JobID: j.ID}
	if j.ClaimID != nil {
		c.Token = *j.ClaimID
	}
	return c
}

// Holds reports whether c is the job's current claim.
func (j *Job) Holds(c Claim) bool {
	return j.ClaimID != nil && c.Token != uuid.Nil && *j.ClaimID == c.Token
}

// JobProgress is the summarized view polled by UIs for in-flight jobs.
type JobProgress struct {
	JobID                  uuid.UUID `json:"job_id"`
	Type                   JobType   `json:"type"`
	Status                 JobStatus `json:"status"`
	Progress               int       `json:"progress"`
	ProcessedCount         int       `json:"processed_count"`
	TotalCount             int       `json:"total_count"`
	EstimatedTimeRemaining *int64    `json:"estimated_time_remaining,omitempty"` // seconds
	Error                  *string   `json:"error,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// QueueStats counts jobs by status.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}
