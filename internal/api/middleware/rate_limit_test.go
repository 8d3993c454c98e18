package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	limiter := NewRateLimiter(60, zaptest.NewLogger(t))

	for i := 0; i < 60; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d within burst must pass", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"), "request beyond burst must be refused")
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	limiter := NewRateLimiter(1, zaptest.NewLogger(t))

	require.True(t, limiter.Allow("10.0.0.1"))
	require.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "a second client gets its own bucket")
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	limiter := NewRateLimiter(1, zaptest.NewLogger(t))
	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	first.RemoteAddr = "192.0.2.10:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	second.RemoteAddr = "192.0.2.10:51235"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestCleanupPrunesIdleBuckets(t *testing.T) {
	limiter := NewRateLimiter(10, zaptest.NewLogger(t))
	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")

	limiter.mu.Lock()
	limiter.buckets["10.0.0.1"].lastSeen = time.Now().Add(-2 * time.Hour)
	limiter.mu.Unlock()

	limiter.cleanup(1 * time.Hour)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.buckets, "10.0.0.1")
	assert.Contains(t, limiter.buckets, "10.0.0.2")
}
