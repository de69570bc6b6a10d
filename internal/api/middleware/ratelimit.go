package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit caps requests per tenant in fixed one-minute windows counted in
// Redis. Every API key of a tenant draws from the same budget, so minting
// extra keys does not raise it.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// Limit counts the request against the tenant set by the auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := GetTenantID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		window := rl.now().Truncate(rateWindow)
		reset := window.Add(rateWindow)
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(tenantID, window), rateWindow)
		if err != nil {
			// Fail open while Redis is unavailable.
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			retryAfter := int(reset.Sub(rl.now()).Seconds() + 0.999)
			w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests for this tenant", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
