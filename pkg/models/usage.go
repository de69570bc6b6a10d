package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a subscription level that determines the generation quota.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro || t == TierEnterprise
}

// UnlimitedGenerations marks a quota with no ceiling.
const UnlimitedGenerations = -1

// Usage is the per-tenant admission-control ledger for the current period.
// For limited tiers GenerationsThisMonth+GenerationsReserved never exceeds
// GenerationsLimit.
type Usage struct {
	TenantID             uuid.UUID `db:"tenant_id"              json:"tenant_id"`
	Tier                 Tier      `db:"tier"                   json:"tier"`
	GenerationsLimit     int       `db:"generations_limit"      json:"generations_limit"`
	GenerationsThisMonth int       `db:"generations_this_month" json:"generations_this_month"`
	GenerationsReserved  int       `db:"generations_reserved"   json:"generations_reserved"`
	PeriodStart          time.Time `db:"period_start"           json:"period_start"`
	PeriodEnd            time.Time `db:"period_end"             json:"period_end"`
	CreatedAt            time.Time `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"             json:"updated_at"`
}

// Unlimited reports whether the tenant has no generation ceiling.
func (u *Usage) Unlimited() bool {
	return u.GenerationsLimit == UnlimitedGenerations
}

// Remaining returns the credits still available, or -1 when unlimited.
func (u *Usage) Remaining() int {
	if u.Unlimited() {
		return UnlimitedGenerations
	}
	r := u.GenerationsLimit - u.GenerationsThisMonth - u.GenerationsReserved
	if r < 0 {
		return 0
	}
	return r
}

// GenerationEntry is one append-only row of a tenant's generation history.
type GenerationEntry struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	TenantID  uuid.UUID  `db:"tenant_id"  json:"tenant_id"`
	JobID     *uuid.UUID `db:"job_id"     json:"job_id,omitempty"`
	Type      JobType    `db:"type"       json:"type"`
	Count     int        `db:"count"      json:"count"`
	CreatedAt time.Time  `db:"created_at" json:"timestamp"`
}

// UsageStats is the derived usage summary for a tenant.
type UsageStats struct {
	Tier            Tier            `json:"tier"`
	Limit           int             `json:"limit"`
	Used            int             `json:"used"`
	Reserved        int             `json:"reserved"`
	Remaining       int             `json:"remaining"`
	ThisMonth       map[JobType]int `json:"this_month"`
	ThisMonthTotal  int             `json:"this_month_total"`
	AllTime         int             `json:"all_time"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
}
