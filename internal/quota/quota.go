// Package quota is the admission controller. It gates generation requests
// against a tenant's tier quota and keeps the usage ledger.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// LimitResult is the outcome of CheckLimit.
type LimitResult struct {
	Allowed   bool        `json:"allowed"`
	Remaining int         `json:"remaining"`
	Limit     int         `json:"limit"`
	Tier      models.Tier `json:"tier"`
	Message   string      `json:"message,omitempty"`
}

// Reservation is a block of credits held for work that has not finished yet.
type Reservation struct {
	TenantID uuid.UUID
	Count    int
	Usage    *models.Usage
}

// Controller is safe for concurrent use; all coordination happens in the store.
type Controller struct {
	store  store.UsageStore
	limits config.QuotaConfig
	now    func() time.Time
}

// NewController creates a Controller backed by st with the given tier limits.
func NewController(st store.UsageStore, limits config.QuotaConfig) *Controller {
	return &Controller{
		store:  st,
		limits: limits,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ParseTenantID parses a tenant identifier, reporting ErrInvalidTenant when malformed.
func ParseTenantID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidTenant
	}
	return id, nil
}

// CheckLimit reports whether requested credits are available. It has no side
// effect other than creating a free-tier record on first use.
func (c *Controller) CheckLimit(ctx context.Context, tenantID uuid.UUID, requested int) (*LimitResult, error) {
	if requested < 1 {
		return nil, ErrInvalidCount
	}
	u, err := c.ensureUsage(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	res := &LimitResult{
		Allowed:   true,
		Remaining: u.Remaining(),
		Limit:     u.GenerationsLimit,
		Tier:      u.Tier,
	}
	if u.Unlimited() {
		return res, nil
	}
	if requested > res.Remaining {
		res.Allowed = false
		res.Message = (&InsufficientCreditsError{Requested: requested, Available: res.Remaining}).Error()
	}
	return res, nil
}

// Reserve holds count credits against the tenant's ceiling. The check and
// the increment are one conditional update, so concurrent callers can never
// jointly overshoot the limit.
func (c *Controller) Reserve(ctx context.Context, tenantID uuid.UUID, count int) (*Reservation, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	if _, err := c.ensureUsage(ctx, tenantID); err != nil {
		return nil, err
	}

	u, err := c.store.ReserveCredits(ctx, tenantID, count, c.now())
	if errors.Is(err, store.ErrConditionFailed) {
		available := 0
		if current, gerr := c.ensureUsage(ctx, tenantID); gerr == nil {
			available = current.Remaining()
		}
		return nil, &InsufficientCreditsError{Requested: count, Available: available}
	}
	if err != nil {
		return nil, storageErr("reserve credits", err)
	}

	slog.Debug("credits reserved", "tenant_id", tenantID, "count", count,
		"reserved", u.GenerationsReserved, "limit", u.GenerationsLimit)
	return &Reservation{TenantID: tenantID, Count: count, Usage: u}, nil
}

// Release returns count reserved credits. Releasing more than is reserved
// floors the reservation at zero.
func (c *Controller) Release(ctx context.Context, tenantID uuid.UUID, count int) error {
	if count < 1 {
		return nil
	}
	if tenantID == uuid.Nil {
		return ErrInvalidTenant
	}

	_, err := c.store.ReleaseCredits(ctx, tenantID, count, c.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageErr("release credits", err)
	}
	slog.Debug("credits released", "tenant_id", tenantID, "count", count)
	return nil
}

// ConsumeCredits commits count credits for completed work and appends a
// history entry. Jobs run through the queue are committed by
// queue.Manager.Complete in the completing transaction instead; this is for
// work accounted outside it. A job id may be committed only once.
func (c *Controller) ConsumeCredits(ctx context.Context, tenantID uuid.UUID, count int, jobType models.JobType, jobID *uuid.UUID) (*models.Usage, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	if _, err := c.ensureUsage(ctx, tenantID); err != nil {
		return nil, err
	}

	u, err := c.store.ConsumeCredits(ctx, &models.GenerationEntry{
		ID:        uuid.New(),
		TenantID:  tenantID,
		JobID:     jobID,
		Type:      jobType,
		Count:     count,
		CreatedAt: c.now(),
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil, ErrAlreadyCommitted
	}
	if err != nil {
		return nil, storageErr("consume credits", err)
	}
	return u, nil
}

// ResetMonthlyUsage zeroes the monthly counter and rolls the window forward
// one month from its current start. Outstanding reservations are kept.
func (c *Controller) ResetMonthlyUsage(ctx context.Context, tenantID uuid.UUID) (*models.Usage, error) {
	u, err := c.ensureUsage(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	start := addMonth(u.PeriodStart)
	end := addMonth(start)

	reset, err := c.store.ResetUsage(ctx, tenantID, u.PeriodStart, start, end, c.now())
	if errors.Is(err, store.ErrConditionFailed) {
		// A concurrent reset already moved the window.
		return c.ensureUsage(ctx, tenantID)
	}
	if err != nil {
		return nil, storageErr("reset usage", err)
	}

	slog.Info("monthly usage reset", "tenant_id", tenantID,
		"period_start", reset.PeriodStart, "period_end", reset.PeriodEnd)
	return reset, nil
}

// UpgradeTier moves the tenant to tier and applies that tier's configured limit.
func (c *Controller) UpgradeTier(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (*models.Usage, error) {
	limit, ok := c.limits.LimitFor(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if _, err := c.ensureUsage(ctx, tenantID); err != nil {
		return nil, err
	}

	u, err := c.store.SetTier(ctx, tenantID, tier, limit, c.now())
	if err != nil {
		return nil, storageErr("set tier", err)
	}

	slog.Info("tier changed", "tenant_id", tenantID, "tier", tier, "limit", limit)
	return u, nil
}

// GetUsageStats summarizes the current period by job type plus all-time totals.
func (c *Controller) GetUsageStats(ctx context.Context, tenantID uuid.UUID) (*models.UsageStats, error) {
	u, err := c.ensureUsage(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	byType, err := c.store.SumGenerationsByType(ctx, tenantID, u.PeriodStart, u.PeriodEnd)
	if err != nil {
		return nil, storageErr("usage by type", err)
	}
	allTime, err := c.store.SumGenerations(ctx, tenantID)
	if err != nil {
		return nil, storageErr("usage all time", err)
	}

	total := 0
	for _, n := range byType {
		total += n
	}

	return &models.UsageStats{
		Tier:           u.Tier,
		Limit:          u.GenerationsLimit,
		Used:           u.GenerationsThisMonth,
		Reserved:       u.GenerationsReserved,
		Remaining:      u.Remaining(),
		ThisMonth:      byType,
		ThisMonthTotal: total,
		AllTime:        allTime,
		PeriodStart:    u.PeriodStart,
		PeriodEnd:      u.PeriodEnd,
	}, nil
}

// ensureUsage loads the tenant's ledger, creating a free-tier record for the
// current calendar month when none exists.
func (c *Controller) ensureUsage(ctx context.Context, tenantID uuid.UUID) (*models.Usage, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenant
	}

	now := c.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	u, err := c.store.GetOrCreateUsage(ctx, &models.Usage{
		TenantID:         tenantID,
		Tier:             models.TierFree,
		GenerationsLimit: c.limits.FreeLimit,
		PeriodStart:      start,
		PeriodEnd:        addMonth(start),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return nil, storageErr("load usage", err)
	}
	return u, nil
}

// addMonth advances t by one calendar month, clamping to the last day of
// the target month (Jan 31 → Feb 28).
func addMonth(t time.Time) time.Time {
	y, m, d := t.Date()
	lastDay := time.Date(y, m+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(y, m+1, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
