package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool runs a fixed number of workers that claim and process jobs until
// the context ends.
type Pool struct {
	queue        JobQueue
	processor    *Processor
	workers      int
	pollInterval time.Duration
}

func NewPool(q JobQueue, processor *Processor, workers int, pollInterval time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Pool{queue: q, processor: processor, workers: workers, pollInterval: pollInterval}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	slog.Info("worker pool started", "workers", p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i + 1)
	}
	wg.Wait()

	slog.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, n int) {
	for ctx.Err() == nil {
		worked, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("worker iteration failed", "worker", n, "error", err)
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.pollInterval):
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job
// was claimed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, p.processor.Process(ctx, job)
}
