package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueStatsKey holds the short-lived snapshot of job counts by status.
const QueueStatsKey = "queue:stats"

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey names a tenant's request counter for the window starting at
// windowStart.
func RateLimitKey(tenantID uuid.UUID, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", tenantID, windowStart.Unix())
}
