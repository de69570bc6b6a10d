// Package pipeline turns one input item of a job into one output record.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// ErrNonRetriable marks failures that will not go away on retry.
var ErrNonRetriable = errors.New("non-retriable stage failure")

// ErrNoStage is returned for a job type without a registered stage.
var ErrNoStage = errors.New("no stage registered for job type")

// Stage processes a single item of a job.
type Stage interface {
	Process(ctx context.Context, job *models.Job, item string) (json.RawMessage, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, job *models.Job, item string) (json.RawMessage, error)

func (f StageFunc) Process(ctx context.Context, job *models.Job, item string) (json.RawMessage, error) {
	return f(ctx, job, item)
}

// Registry maps every job type to its stage.
type Registry struct {
	stages map[models.JobType]Stage
}

// NewRegistry fails unless every known job type has a stage.
func NewRegistry(stages map[models.JobType]Stage) (*Registry, error) {
	r := &Registry{stages: make(map[models.JobType]Stage, len(models.JobTypes))}
	for _, t := range models.JobTypes {
		s, ok := stages[t]
		if !ok || s == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoStage, t)
		}
		r.stages[t] = s
	}
	for t := range stages {
		if !t.Valid() {
			return nil, fmt.Errorf("stage registered for unknown job type %q", t)
		}
	}
	return r, nil
}

// Lookup returns the stage for t.
func (r *Registry) Lookup(t models.JobType) (Stage, error) {
	s, ok := r.stages[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoStage, t)
	}
	return s, nil
}

// IsRetriable reports whether a stage error should send the job back to the queue.
func IsRetriable(err error) bool {
	return err != nil && !errors.Is(err, ErrNonRetriable) && !errors.Is(err, ErrNoStage)
}
