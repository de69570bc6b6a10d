// Package storetest provides an in-memory store.Store for unit tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

var _ store.Store = (*MemoryStore)(nil)

// MemoryStore mirrors the PostgresStore semantics behind a single mutex.
// Setting Err makes every call fail with it.
type MemoryStore struct {
	mu      sync.Mutex
	Err     error
	tenant  models.Tenant
	keys    map[uuid.UUID]*models.APIKey
	jobs    map[uuid.UUID]*models.Job
	usage   map[uuid.UUID]*models.Usage
	history []models.GenerationEntry
}

// NewMemoryStore returns an empty store seeded with the default tenant.
func NewMemoryStore() *MemoryStore {
	now := time.Now().UTC()
	return &MemoryStore{
		tenant: models.Tenant{ID: uuid.New(), Name: "default", CreatedAt: now, UpdatedAt: now},
		keys:   make(map[uuid.UUID]*models.APIKey),
		jobs:   make(map[uuid.UUID]*models.Job),
		usage:  make(map[uuid.UUID]*models.Usage),
	}
}

// SetErr swaps the injected failure.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// PutJob stores a copy of j as is, bypassing every lifecycle rule.
func (m *MemoryStore) PutJob(j *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = copyJob(j)
}

// PutUsage stores a copy of u as is.
func (m *MemoryStore) PutUsage(u *models.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.usage[u.TenantID] = &cp
}

// History returns a copy of the generation history.
func (m *MemoryStore) History() []models.GenerationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GenerationEntry(nil), m.history...)
}

// JobCount returns the number of stored jobs.
func (m *MemoryStore) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func copyJob(j *models.Job) *models.Job {
	cp := *j
	cp.Input = append([]string(nil), j.Input...)
	cp.Output = append([]json.RawMessage(nil), j.Output...)
	return &cp
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// --- Tenants & API keys ---

func (m *MemoryStore) GetDefaultTenant(context.Context) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	t := m.tenant
	return &t, nil
}

func (m *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && !k.Revoked() {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if k, ok := m.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.TenantID == tenantID && !k.Revoked() {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k, ok := m.keys[id]
	if !ok || k.TenantID != tenantID || k.Revoked() {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Jobs ---

func (m *MemoryStore) CreateJobs(_ context.Context, jobs []*models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	seen := make(map[uuid.UUID]bool, len(jobs))
	for _, j := range jobs {
		if _, ok := m.jobs[j.ID]; ok || seen[j.ID] {
			return store.ErrDuplicateKey
		}
		seen[j.ID] = true
	}
	for _, j := range jobs {
		m.jobs[j.ID] = copyJob(j)
	}
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *MemoryStore) ClaimNextJob(_ context.Context, now, leaseUntil time.Time, claimID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var best *models.Job
	for _, j := range m.jobs {
		if j.Status != models.JobStatusQueued || j.EligibleAt.After(now) || !j.ExpiresAt.After(now) {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}

	best.Status = models.JobStatusProcessing
	best.StartedAt = &now
	best.UpdatedAt = now
	best.LeaseExpiresAt = &leaseUntil
	best.ClaimID = &claimID
	best.Error = nil
	return copyJob(best), nil
}

func claimsBefore(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (m *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, fn func(*models.Job) error) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	working := copyJob(j)
	if err := fn(working); err != nil {
		return nil, err
	}
	m.jobs[id] = copyJob(working)
	return working, nil
}

func (m *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, fn func(*models.Job) (*models.GenerationEntry, error)) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	working := copyJob(j)
	entry, err := fn(working)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		_, err := m.consume(entry)
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNoUsage
		}
		if err != nil {
			return nil, err
		}
	}
	m.jobs[id] = copyJob(working)
	return working, nil
}

func (m *MemoryStore) RenewLease(_ context.Context, claim models.Claim, leaseUntil, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	j, ok := m.jobs[claim.JobID]
	if !ok || j.Status != models.JobStatusProcessing || !j.Holds(claim) {
		return store.ErrConditionFailed
	}
	j.LeaseExpiresAt = &leaseUntil
	j.UpdatedAt = now
	return nil
}

func (m *MemoryStore) RequeueStaleJobs(_ context.Context, now time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	msg := "worker lease expired"
	var out []*models.Job
	for _, j := range m.jobs {
		if j.Status != models.JobStatusProcessing || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}
		if j.RetryCount < j.MaxRetries {
			j.Status = models.JobStatusQueued
			j.RetryCount++
			j.CompletedAt = nil
		} else {
			j.Status = models.JobStatusFailed
			completed := now
			j.CompletedAt = &completed
		}
		j.Error = &msg
		j.LeaseExpiresAt = nil
		j.ClaimID = nil
		j.EligibleAt = now
		j.UpdatedAt = now
		out = append(out, copyJob(j))
	}
	return out, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var out []*models.Job
	for _, j := range m.jobs {
		if filter.TenantID != uuid.Nil && j.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != "" && j.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, j.Status) {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID.String() > out[b].ID.String()
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasStatus(statuses []models.JobStatus, s models.JobStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) DeleteExpiredJobs(_ context.Context, now time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.Job
	for id, j := range m.jobs {
		if j.ExpiresAt.Before(now) && j.Status != models.JobStatusProcessing {
			out = append(out, j)
			delete(m.jobs, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountJobsByStatus(context.Context) (map[models.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	counts := make(map[models.JobStatus]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// --- Usage ---

func (m *MemoryStore) GetOrCreateUsage(_ context.Context, initial *models.Usage) (*models.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.usage[initial.TenantID]
	if !ok {
		cp := *initial
		u = &cp
		m.usage[initial.TenantID] = u
	}
	out := *u
	return &out, nil
}

func (m *MemoryStore) ReserveCredits(_ context.Context, tenantID uuid.UUID, count int, now time.Time) (*models.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.usage[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !u.Unlimited() && u.GenerationsThisMonth+u.GenerationsReserved+count > u.GenerationsLimit {
		return nil, store.ErrConditionFailed
	}
	u.GenerationsReserved += count
	u.UpdatedAt = now
	out := *u
	return &out, nil
}

func (m *MemoryStore) ReleaseCredits(_ context.Context, tenantID uuid.UUID, count int, now time.Time) (*models.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.usage[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.GenerationsReserved = max(u.GenerationsReserved-count, 0)
	u.UpdatedAt = now
	out := *u
	return &out, nil
}

func (m *MemoryStore) ConsumeCredits(_ context.Context, entry *models.GenerationEntry) (*models.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.consume(entry)
}

// consume applies a ledger entry. The caller holds m.mu.
func (m *MemoryStore) consume(entry *models.GenerationEntry) (*models.Usage, error) {
	u, ok := m.usage[entry.TenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if entry.JobID != nil {
		for _, h := range m.history {
			if h.JobID != nil && *h.JobID == *entry.JobID {
				return nil, store.ErrDuplicateKey
			}
		}
	}
	u.GenerationsThisMonth += entry.Count
	u.GenerationsReserved = max(u.GenerationsReserved-entry.Count, 0)
	u.UpdatedAt = entry.CreatedAt
	m.history = append(m.history, *entry)
	out := *u
	return &out, nil
}

func (m *MemoryStore) ResetUsage(_ context.Context, tenantID uuid.UUID, observedStart, start, end, now time.Time) (*models.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.usage[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !u.PeriodStart.Equal(observedStart) {
		return nil, store.ErrConditionFailed
	}
	u.GenerationsThisMonth = 0
	u.PeriodStart = start
	u.PeriodEnd = end
	u.UpdatedAt = now
	out := *u
	return &out, nil
}

func (m *MemoryStore) SetTier(_ context.Context, tenantID uuid.UUID, tier models.Tier, limit int, now time.Time) (*models.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.usage[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Tier = tier
	u.GenerationsLimit = limit
	u.UpdatedAt = now
	out := *u
	return &out, nil
}

func (m *MemoryStore) SumGenerationsByType(_ context.Context, tenantID uuid.UUID, from, to time.Time) (map[models.JobType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	sums := make(map[models.JobType]int)
	for _, e := range m.history {
		if e.TenantID == tenantID && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			sums[e.Type] += e.Count
		}
	}
	return sums, nil
}

func (m *MemoryStore) SumGenerations(_ context.Context, tenantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	total := 0
	for _, e := range m.history {
		if e.TenantID == tenantID {
			total += e.Count
		}
	}
	return total, nil
}
