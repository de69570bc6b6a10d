package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

const apiKeyColumns = `id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Jobs ---

const jobColumns = `id, parent_id, tenant_id, user_id, type, status, priority, input, output,
	progress, processed_count, total_count, retry_count, max_retries, retry_delay_ms, error_message,
	eligible_at, lease_expires_at, claim_id, processing_time_ms, created_at, updated_at, started_at,
	completed_at, expires_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var retryDelayMs int64
	err := row.Scan(&j.ID, &j.ParentID, &j.TenantID, &j.UserID, &j.Type, &j.Status, &j.Priority,
		&j.Input, &j.Output, &j.Progress, &j.ProcessedCount, &j.TotalCount, &j.RetryCount,
		&j.MaxRetries, &retryDelayMs, &j.Error, &j.EligibleAt, &j.LeaseExpiresAt, &j.ClaimID,
		&j.ProcessingTimeMs, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.ExpiresAt)
	if err != nil {
		return nil, err
	}
	j.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// nonNilOutput keeps the jsonb column an array rather than null.
func nonNilOutput(out []json.RawMessage) []json.RawMessage {
	if out == nil {
		return []json.RawMessage{}
	}
	return out
}

func (s *PostgresStore) CreateJobs(ctx context.Context, jobs []*models.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create jobs: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, j := range jobs {
		_, err := tx.Exec(ctx,
			`INSERT INTO jobs (id, parent_id, tenant_id, user_id, type, status, priority, input, output,
			   progress, processed_count, total_count, retry_count, max_retries, retry_delay_ms,
			   eligible_at, created_at, updated_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			j.ID, j.ParentID, j.TenantID, j.UserID, j.Type, j.Status, j.Priority, j.Input,
			nonNilOutput(j.Output), j.Progress, j.ProcessedCount, j.TotalCount, j.RetryCount,
			j.MaxRetries, j.RetryDelay.Milliseconds(), j.EligibleAt, j.CreatedAt, j.UpdatedAt, j.ExpiresAt)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("create job: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create jobs: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context, now, leaseUntil time.Time, claimID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', started_at = $1, updated_at = $1,
		   lease_expires_at = $2, claim_id = $3, error_message = NULL
		 WHERE id = (
		   SELECT id FROM jobs
		   WHERE status = 'queued' AND eligible_at <= $1 AND expires_at > $1
		   ORDER BY priority DESC, created_at ASC, id ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED)
		 RETURNING `+jobColumns, now, leaseUntil, claimID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, fn func(*models.Job) error) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	j, err := lockJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	if err := writeJob(ctx, tx, j); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, fn func(*models.Job) (*models.GenerationEntry, error)) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin complete job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	j, err := lockJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	entry, err := fn(j)
	if err != nil {
		return nil, err
	}
	if err := writeJob(ctx, tx, j); err != nil {
		return nil, err
	}
	if entry != nil {
		_, err := consumeCredits(ctx, tx, entry)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoUsage
		}
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit complete job: %w", err)
	}
	return j, nil
}

func lockJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}
	return j, nil
}

// writeJob stores the mutable fields of a row locked by lockJob.
func writeJob(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	_, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $2, progress = $3, processed_count = $4, output = $5,
		   retry_count = $6, error_message = $7, eligible_at = $8, lease_expires_at = $9,
		   claim_id = $10, processing_time_ms = $11, updated_at = $12, started_at = $13,
		   completed_at = $14
		 WHERE id = $1`,
		j.ID, j.Status, j.Progress, j.ProcessedCount, nonNilOutput(j.Output), j.RetryCount,
		j.Error, j.EligibleAt, j.LeaseExpiresAt, j.ClaimID, j.ProcessingTimeMs, j.UpdatedAt,
		j.StartedAt, j.CompletedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenewLease(ctx context.Context, claim models.Claim, leaseUntil, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET lease_expires_at = $3, updated_at = $4
		 WHERE id = $1 AND claim_id = $2 AND status = 'processing'`,
		claim.JobID, claim.Token, leaseUntil, now)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *PostgresStore) RequeueStaleJobs(ctx context.Context, now time.Time) ([]*models.Job, error) {
	// Right-hand sides see the pre-update row, so every CASE branches on the old retry_count.
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET
		   status = CASE WHEN retry_count < max_retries THEN 'queued' ELSE 'failed' END,
		   retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
		   completed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE $1::timestamptz END,
		   error_message = 'worker lease expired',
		   lease_expires_at = NULL,
		   claim_id = NULL,
		   eligible_at = $1,
		   updated_at = $1
		 WHERE status = 'processing' AND lease_expires_at < $1
		 RETURNING `+jobColumns, now)
	if err != nil {
		return nil, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.TenantID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, filter.UserID)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, statuses)
		argIdx++
	}

	where := "TRUE"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		jobColumns, where, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) DeleteExpiredJobs(ctx context.Context, now time.Time) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM jobs WHERE expires_at < $1 AND status <> 'processing' RETURNING `+jobColumns, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- Usage ---

const usageColumns = `tenant_id, tier, generations_limit, generations_this_month, generations_reserved,
	period_start, period_end, created_at, updated_at`

func scanUsage(row pgx.Row) (*models.Usage, error) {
	var u models.Usage
	err := row.Scan(&u.TenantID, &u.Tier, &u.GenerationsLimit, &u.GenerationsThisMonth,
		&u.GenerationsReserved, &u.PeriodStart, &u.PeriodEnd, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetOrCreateUsage(ctx context.Context, initial *models.Usage) (*models.Usage, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage (tenant_id, tier, generations_limit, generations_this_month, generations_reserved,
		   period_start, period_end, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id) DO NOTHING`,
		initial.TenantID, initial.Tier, initial.GenerationsLimit, initial.GenerationsThisMonth,
		initial.GenerationsReserved, initial.PeriodStart, initial.PeriodEnd, initial.CreatedAt,
		initial.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("init usage: %w", err)
	}

	u, err := scanUsage(s.pool.QueryRow(ctx,
		`SELECT `+usageColumns+` FROM usage WHERE tenant_id = $1`, initial.TenantID))
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ReserveCredits(ctx context.Context, tenantID uuid.UUID, count int, now time.Time) (*models.Usage, error) {
	u, err := scanUsage(s.pool.QueryRow(ctx,
		`UPDATE usage SET generations_reserved = generations_reserved + $2, updated_at = $3
		 WHERE tenant_id = $1
		   AND (generations_limit = -1
		        OR generations_this_month + generations_reserved + $2 <= generations_limit)
		 RETURNING `+usageColumns, tenantID, count, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.usageMissOrConflict(ctx, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve credits: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ReleaseCredits(ctx context.Context, tenantID uuid.UUID, count int, now time.Time) (*models.Usage, error) {
	u, err := scanUsage(s.pool.QueryRow(ctx,
		`UPDATE usage SET generations_reserved = GREATEST(generations_reserved - $2, 0), updated_at = $3
		 WHERE tenant_id = $1
		 RETURNING `+usageColumns, tenantID, count, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("release credits: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ConsumeCredits(ctx context.Context, entry *models.GenerationEntry) (*models.Usage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin consume credits: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	u, err := consumeCredits(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit consume credits: %w", err)
	}
	return u, nil
}

// consumeCredits converts reserved credits to used and appends entry to the
// history inside tx.
func consumeCredits(ctx context.Context, tx pgx.Tx, entry *models.GenerationEntry) (*models.Usage, error) {
	u, err := scanUsage(tx.QueryRow(ctx,
		`UPDATE usage SET
		   generations_this_month = generations_this_month + $2,
		   generations_reserved = GREATEST(generations_reserved - $2, 0),
		   updated_at = $3
		 WHERE tenant_id = $1
		 RETURNING `+usageColumns, entry.TenantID, entry.Count, entry.CreatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume credits: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO generation_history (id, tenant_id, job_id, type, count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.TenantID, entry.JobID, entry.Type, entry.Count, entry.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("append generation history: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ResetUsage(ctx context.Context, tenantID uuid.UUID, observedStart, start, end, now time.Time) (*models.Usage, error) {
	u, err := scanUsage(s.pool.QueryRow(ctx,
		`UPDATE usage SET generations_this_month = 0, period_start = $3, period_end = $4, updated_at = $5
		 WHERE tenant_id = $1 AND period_start = $2
		 RETURNING `+usageColumns, tenantID, observedStart, start, end, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.usageMissOrConflict(ctx, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("reset usage: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SetTier(ctx context.Context, tenantID uuid.UUID, tier models.Tier, limit int, now time.Time) (*models.Usage, error) {
	u, err := scanUsage(s.pool.QueryRow(ctx,
		`UPDATE usage SET tier = $2, generations_limit = $3, updated_at = $4
		 WHERE tenant_id = $1
		 RETURNING `+usageColumns, tenantID, tier, limit, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set tier: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SumGenerationsByType(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (map[models.JobType]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT type, SUM(count) FROM generation_history
		 WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		 GROUP BY type`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum generations by type: %w", err)
	}
	defer rows.Close()

	sums := make(map[models.JobType]int)
	for rows.Next() {
		var t models.JobType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan generation sum: %w", err)
		}
		sums[t] = n
	}
	return sums, rows.Err()
}

func (s *PostgresStore) SumGenerations(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM generation_history WHERE tenant_id = $1`, tenantID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum generations: %w", err)
	}
	return total, nil
}

// usageMissOrConflict tells a missing ledger row apart from a failed guard.
func (s *PostgresStore) usageMissOrConflict(ctx context.Context, tenantID uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM usage WHERE tenant_id = $1)`, tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check usage: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConditionFailed
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
