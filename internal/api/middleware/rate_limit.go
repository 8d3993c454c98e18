package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kestrelnet/cascade/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimiter keeps one token bucket per client address so a single noisy
// caller cannot starve the rest. Buckets are created on first sight and
// pruned by the cleanup routine once idle.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket

	perMinute int
	logger    *zap.Logger
}

type clientBucket struct {
	bucket   *ratelimit.TokenBucket
	lastSeen time.Time
}

func NewRateLimiter(requestsPerMinute int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[string]*clientBucket),
		perMinute: requestsPerMinute,
		logger:    logger,
	}
}

// Allow consumes one token for the client key, creating the bucket on
// first use.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &clientBucket{bucket: ratelimit.NewTokenBucketPerMinute(l.perMinute)}
		l.buckets[key] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.bucket.Allow()
}

// StartCleanupRoutine prunes buckets idle longer than maxAge, checking
// every interval. The goroutine runs for the life of the process.
func (l *RateLimiter) StartCleanupRoutine(interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			l.cleanup(maxAge)
		}
	}()
}

func (l *RateLimiter) cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for key, entry := range l.buckets {
		if entry.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("pruned idle rate-limit buckets", zap.Int("removed", removed))
	}
}

// RateLimitMiddleware keys buckets by client IP and answers 429 with a
// Retry-After when the bucket is empty.
func RateLimitMiddleware(limiter *RateLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !limiter.Allow(key) {
				limiter.logger.Warn("request rate limited",
					zap.String("client", key),
					zap.String("path", r.URL.Path))

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":     "rate_limited",
					"message":   "Too many requests, slow down",
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
