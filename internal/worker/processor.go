// Package worker executes queued jobs and runs the periodic sweeper.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/pipeline"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// JobQueue is the subset of queue.Manager a worker drives.
type JobQueue interface {
	ClaimNext(ctx context.Context) (*models.Job, error)
	UpdateProgress(ctx context.Context, claim models.Claim, progress, processedCount int, partial ...json.RawMessage) (*models.Job, error)
	// Complete also commits the job's reserved credits.
	Complete(ctx context.Context, claim models.Claim, output ...json.RawMessage) (*models.Job, error)
	Fail(ctx context.Context, claim models.Claim, errMsg string, shouldRetry bool) (*models.Job, error)
	Heartbeat(ctx context.Context, claim models.Claim) error
	IsCancelled(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// StageLookup resolves the stage for a job type.
type StageLookup interface {
	Lookup(t models.JobType) (pipeline.Stage, error)
}

var errAbandoned = errors.New("job abandoned")

// Processor runs a single claimed job to a terminal state or back to the queue.
type Processor struct {
	queue             JobQueue
	stages            StageLookup
	heartbeatInterval time.Duration
}

func NewProcessor(q JobQueue, stages StageLookup, heartbeatInterval time.Duration) *Processor {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Processor{queue: q, stages: stages, heartbeatInterval: heartbeatInterval}
}

// Process works through the job's remaining items one at a time, resuming
// after any items a previous attempt already recorded. It returns once the
// job is completed, failed, requeued, or found cancelled.
func (p *Processor) Process(ctx context.Context, job *models.Job) (err error) {
	start := time.Now()
	claim := job.Claim()
	log := slog.With("job_id", job.ID, "type", job.Type, "tenant_id", job.TenantID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing job", "error", r)
			p.fail(job, fmt.Sprintf("panic: %v", r), false)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	stage, err := p.stages.Lookup(job.Type)
	if err != nil {
		p.fail(job, err.Error(), false)
		return err
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go p.heartbeat(jobCtx, cancel, claim)

	for i := job.ProcessedCount; i < job.TotalCount; i++ {
		if err := p.checkCancelled(jobCtx, job.ID); err != nil {
			return p.stop(ctx, jobCtx, job, err)
		}

		out, err := stage.Process(jobCtx, job, job.Input[i])
		if err != nil {
			if jobCtx.Err() != nil {
				return p.stop(ctx, jobCtx, job, err)
			}
			retry := pipeline.IsRetriable(err)
			p.fail(job, err.Error(), retry)
			log.Warn("item failed", "item", i, "retry", retry, "error", err)
			return err
		}

		processed := i + 1
		_, err = p.queue.UpdateProgress(jobCtx, claim, processed*100/job.TotalCount, processed, out)
		if errors.Is(err, queue.ErrInvalidTransition) {
			return p.stop(ctx, jobCtx, job, errAbandoned)
		}
		if err != nil {
			if jobCtx.Err() != nil {
				return p.stop(ctx, jobCtx, job, err)
			}
			return fmt.Errorf("recording progress: %w", err)
		}
	}

	// A failed completion leaves the job processing with its reservation
	// intact; lease reclamation retries it and the retry resumes past the
	// last recorded item.
	if _, err := p.queue.Complete(ctx, claim); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			log.Info("job left processing before completion")
			return nil
		}
		return fmt.Errorf("completing job: %w", err)
	}

	log.Info("job processed", "items", job.TotalCount, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) checkCancelled(ctx context.Context, jobID uuid.UUID) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	cancelled, err := p.queue.IsCancelled(ctx, jobID)
	if err != nil {
		// The heartbeat still detects a cancelled job.
		slog.Warn("cancellation check failed", "job_id", jobID, "error", err)
		return nil
	}
	if cancelled {
		return errAbandoned
	}
	return nil
}

// stop handles a job interrupted by cancellation, a lost lease, or shutdown.
func (p *Processor) stop(ctx, jobCtx context.Context, job *models.Job, cause error) error {
	if ctx.Err() != nil {
		// Shutting down: hand the job back so another worker can resume it.
		p.fail(job, "worker shutting down", true)
		return ctx.Err()
	}
	if errors.Is(context.Cause(jobCtx), errAbandoned) || errors.Is(cause, errAbandoned) {
		slog.Info("job abandoned", "job_id", job.ID, "reason", "cancelled or reclaimed")
		return nil
	}
	return cause
}

// heartbeat renews the lease until ctx ends. Losing the job cancels ctx.
func (p *Processor) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, claim models.Claim) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.queue.Heartbeat(ctx, claim)
			if errors.Is(err, queue.ErrInvalidTransition) {
				cancel(errAbandoned)
				return
			}
			if err != nil && ctx.Err() == nil {
				slog.Warn("lease renewal failed", "job_id", claim.JobID, "error", err)
			}
		}
	}
}

// fail records a failure outside the job context so it survives cancellation.
func (p *Processor) fail(job *models.Job, msg string, retry bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.queue.Fail(ctx, job.Claim(), msg, retry); err != nil && !errors.Is(err, queue.ErrInvalidTransition) {
		slog.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
}
