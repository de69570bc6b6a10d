package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/cache/cachetest"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock KeyStore ---

type mockKeyStore struct {
	keys []*models.APIKey
	err  error
}

func (m *mockKeyStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}
func (m *mockKeyStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

// --- Mock Cache ---

type mockCache struct {
	counter int64
	err     error
}

func (m *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (m *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (m *mockCache) Delete(_ context.Context, _ ...string) error                       { return nil }
func (m *mockCache) Ping(_ context.Context) error                                      { return nil }
func (m *mockCache) SetJobStatus(_ context.Context, _ uuid.UUID, _ models.JobStatus, _ time.Duration) error {
	return nil
}
func (m *mockCache) GetJobStatus(_ context.Context, _ uuid.UUID) (models.JobStatus, bool, error) {
	return "", false, nil
}
func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	m.counter++
	return m.counter, m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func storeWithKey(t *testing.T, rawKey string, tenantID uuid.UUID, scopes ...string) *mockKeyStore {
	t.Helper()
	return &mockKeyStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		TenantID:  tenantID,
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
	}}}
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyTooShort(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer short")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyNotFound(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{keys: []*models.APIKey{}})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer gq_test1234567890")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_StoreError(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{err: errors.New("db down")})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer gq_test1234567890")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuth_WrongPassword(t *testing.T) {
	rawKey := "gq_test1234567890abcdef"
	ms := storeWithKey(t, "different_key_entirely", uuid.New(), "jobs")
	auth := mw.NewAuth(ms)
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidKey(t *testing.T) {
	rawKey := "gq_test1234567890abcdef"
	tenantID := uuid.New()
	auth := mw.NewAuth(storeWithKey(t, rawKey, tenantID, "jobs", "admin"))

	var gotTenantID uuid.UUID
	var gotUserID string
	var gotOK, gotUserOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenantID, gotOK = mw.GetTenantID(r)
		gotUserID, gotUserOK = mw.GetUserID(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.Authenticate(inner)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotOK)
	assert.Equal(t, tenantID, gotTenantID)
	assert.True(t, gotUserOK)
	assert.Equal(t, "gq_test1", gotUserID, "user defaults to the key prefix")
}

func TestAuth_UserHeader(t *testing.T) {
	rawKey := "gq_test1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, uuid.New(), "jobs"))

	var gotUserID string
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = mw.GetUserID(r)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	req.Header.Set(mw.UserIDHeader, "  editor-42 ")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "editor-42", gotUserID)
}

func TestAuth_UserHeaderTooLong(t *testing.T) {
	rawKey := "gq_test1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, uuid.New(), "jobs"))
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	req.Header.Set(mw.UserIDHeader, strings.Repeat("u", 200))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth_RequireScope_Allowed(t *testing.T) {
	rawKey := "gq_admin_1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, uuid.New(), "jobs", "admin"))

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_RequireScope_Denied(t *testing.T) {
	rawKey := "gq_jobs__1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, uuid.New(), "jobs"))

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errBody(t, w)["code"])
}

func TestAuth_RequireScope_AdminImpliesOthers(t *testing.T) {
	rawKey := "gq_root__1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, uuid.New(), models.ScopeAdmin))

	handler := auth.Authenticate(auth.RequireScope("jobs")(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func tenantRequest(tenantID uuid.UUID) *http.Request {
	req := httptest.NewRequest("GET", "/test", nil)
	return req.WithContext(mw.SetTenantID(req.Context(), tenantID))
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCache{counter: 0}
	rl := mw.NewRateLimit(mc, 60)
	rl.SetClock(func() time.Time { return time.Date(2026, 3, 15, 12, 4, 20, 0, time.UTC) })

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, tenantRequest(uuid.New()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1773576300", w.Header().Get("X-RateLimit-Reset"), "end of the current minute")
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCache{counter: 60} // next IncrWithExpiry will return 61
	rl := mw.NewRateLimit(mc, 60)
	rl.SetClock(func() time.Time { return time.Date(2026, 3, 15, 12, 4, 45, 0, time.UTC) })

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, tenantRequest(uuid.New()))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "15", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_BudgetIsPerTenant(t *testing.T) {
	mc := cachetest.NewMemoryCache()
	rl := mw.NewRateLimit(mc, 2)
	rl.SetClock(func() time.Time { return time.Date(2026, 3, 15, 12, 4, 0, 0, time.UTC) })
	handler := rl.Limit(okHandler())
	busy, quiet := uuid.New(), uuid.New()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		// Different keys of one tenant land on the same context tenant.
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest(busy))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest(quiet))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NewWindowResetsBudget(t *testing.T) {
	mc := cachetest.NewMemoryCache()
	now := time.Date(2026, 3, 15, 12, 4, 59, 0, time.UTC)
	rl := mw.NewRateLimit(mc, 1)
	rl.SetClock(func() time.Time { return now })
	handler := rl.Limit(okHandler())
	tenantID := uuid.New()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest(tenantID))
	require.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest(tenantID))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	now = now.Add(2 * time.Second)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest(tenantID))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_CacheErrorFailsOpen(t *testing.T) {
	mc := &mockCache{counter: 1000, err: errors.New("redis down")}
	handler := mw.NewRateLimit(mc, 60).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest(uuid.New()))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NoTenant_PassThrough(t *testing.T) {
	mc := &mockCache{}
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, mc.counter)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery_ResponseAlreadyStarted(t *testing.T) {
	partial := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"x"}`))
		panic("late failure")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	mw.Recovery(partial).ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, `{"id":"x"}`, w.Body.String())
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	aborting := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		mw.Recovery(aborting).ServeHTTP(w, req)
	})
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
