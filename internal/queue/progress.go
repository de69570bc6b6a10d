package queue

import (
	"math"
	"time"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// EstimateTimeRemaining extrapolates linearly from the average time per
// processed item. It returns nil until at least one item is processed.
func EstimateTimeRemaining(j *models.Job, now time.Time) *int64 {
	if j.ProcessedCount <= 0 || j.StartedAt == nil {
		return nil
	}
	elapsed := now.Sub(*j.StartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	perItem := elapsed / float64(j.ProcessedCount)
	remaining := int64(math.Round(perItem * float64(j.TotalCount-j.ProcessedCount)))
	return &remaining
}

// ToProgress builds the polling view of a job.
func ToProgress(j *models.Job, now time.Time) models.JobProgress {
	return models.JobProgress{
		JobID:                  j.ID,
		Type:                   j.Type,
		Status:                 j.Status,
		Progress:               j.Progress,
		ProcessedCount:         j.ProcessedCount,
		TotalCount:             j.TotalCount,
		EstimatedTimeRemaining: EstimateTimeRemaining(j, now),
		Error:                  j.Error,
		CreatedAt:              j.CreatedAt,
	}
}
