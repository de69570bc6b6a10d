package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("genqueue_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// defaultTenantID returns the UUID of the seeded default tenant.
func defaultTenantID(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	return tenant.ID
}

// --- Tenant Tests ---

func TestGetDefaultTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", tenant.Name)
	assert.NotEqual(t, uuid.Nil, tenant.ID)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "gq_abcd",
		Scopes:    []string{"jobs", "read"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	// Get by prefix
	keys, err := s.GetAPIKeyByPrefix(ctx, "gq_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
}

func TestAPIKey_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		err := s.CreateAPIKey(ctx, &models.APIKey{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Name:      "key-" + uuid.NewString()[:4],
			KeyHash:   "hash-" + uuid.NewString()[:4],
			KeyPrefix: "gq_" + uuid.NewString()[:4],
			Scopes:    []string{"read"},
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	keys, err := s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "revoke-me",
		KeyHash:   "hash",
		KeyPrefix: "gq_revk",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	// Revoke
	err := s.RevokeAPIKey(ctx, key.ID, tenantID)
	require.NoError(t, err)

	// Should not appear in list or prefix lookup
	keys, err := s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "gq_revk")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAPIKey_RevokeNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.RevokeAPIKey(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "usage-key",
		KeyHash:   "hash",
		KeyPrefix: "gq_used",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.UpdateAPIKeyLastUsed(ctx, key.ID)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "gq_used")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	key := &models.APIKey{
		ID: id, TenantID: tenantID, Name: "dup1", KeyHash: "h1", KeyPrefix: "gq_dup1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	key2 := &models.APIKey{
		ID: id, TenantID: tenantID, Name: "dup2", KeyHash: "h2", KeyPrefix: "gq_dup2",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	err := s.CreateAPIKey(ctx, key2)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
