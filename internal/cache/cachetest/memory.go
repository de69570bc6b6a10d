// Package cachetest provides an in-memory cache.Cache for unit tests.
package cachetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

var _ cache.Cache = (*MemoryCache)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache honours TTLs against the wall clock. Setting Err makes every
// call fail with it.
type MemoryCache struct {
	mu      sync.Mutex
	Err     error
	entries map[string]entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry)}
}

// Has reports whether key holds a live value.
func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key)
	return ok
}

func (c *MemoryCache) live(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	e, ok := c.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Err
}

func (c *MemoryCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, cache.JobStatusKey(jobID))
	}
	return c.Set(ctx, cache.JobStatusKey(jobID), []byte(status), ttl)
}

func (c *MemoryCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	raw, found, err := c.Get(ctx, cache.JobStatusKey(jobID))
	if err != nil || !found {
		return "", found, err
	}
	return models.JobStatus(raw), true, nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	var n int64
	e, ok := c.live(key)
	if ok {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	} else {
		e = entry{expiresAt: time.Now().Add(expiry)}
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	c.entries[key] = e
	return n, nil
}
