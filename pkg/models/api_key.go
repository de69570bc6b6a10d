package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ScopeAdmin grants the queue and tenant administration routes.
const ScopeAdmin = "admin"

// APIKey authenticates a tenant's clients. Every key of a tenant enqueues
// against the same credits and the same rate-limit budget. Only the bcrypt
// hash of the raw key is stored; KeyPrefix is the lookup handle.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Revoked reports whether the key was deleted.
func (k *APIKey) Revoked() bool { return k.DeletedAt != nil }

// HasScope reports whether the key carries scope.
func (k *APIKey) HasScope(scope string) bool { return GrantsScope(k.Scopes, scope) }

// GrantsScope reports whether a set of granted scopes admits scope. The
// admin scope admits everything.
func GrantsScope(granted []string, scope string) bool {
	return slices.Contains(granted, scope) || slices.Contains(granted, ScopeAdmin)
}
