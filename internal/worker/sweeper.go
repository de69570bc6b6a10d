package worker

import (
	"context"
	"log/slog"
	"time"
)

// Maintenance is the housekeeping side of queue.Manager.
type Maintenance interface {
	CleanupExpiredJobs(ctx context.Context) (int, error)
	RequeueStale(ctx context.Context) (int, error)
}

// Sweeper periodically removes expired jobs and reclaims jobs whose worker
// stopped renewing its lease.
type Sweeper struct {
	queue    Maintenance
	interval time.Duration
}

func NewSweeper(q Maintenance, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{queue: q, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup and one lease reclamation pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	if n, err := s.queue.RequeueStale(ctx); err != nil {
		slog.Error("lease reclamation failed", "error", err)
	} else if n > 0 {
		slog.Info("reclaimed stale jobs", "count", n)
	}

	if n, err := s.queue.CleanupExpiredJobs(ctx); err != nil {
		slog.Error("expired job cleanup failed", "error", err)
	} else if n > 0 {
		slog.Info("cleaned up expired jobs", "count", n)
	}
}
