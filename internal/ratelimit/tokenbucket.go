// Package ratelimit provides the two limiter shapes the cascade's sources
// need: a continuously-refilling token bucket that blocks callers rather
// than refusing them, and a UTC-midnight-aligned daily budget.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucket never refuses a caller outright; Wait blocks until a token is
// available or the context is done. This mirrors the cascade's requirement
// that rate limiting only delays requests, since a refused request would
// otherwise need its own retry/backoff policy duplicated at every call site.
// It wraps golang.org/x/time/rate's limiter rather than reimplementing the
// refill arithmetic.
type TokenBucket struct {
	limiter    *rate.Limiter
	capacity   float64
	refillRate float64 // tokens per second
}

// NewTokenBucket creates a bucket with the given burst capacity and
// sustained rate (in requests per second).
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	burst := int(capacity)
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter:    rate.NewLimiter(rate.Limit(refillRate), burst),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// NewTokenBucketPerMinute is a convenience constructor matching how the
// cascade's sources express their configured limits ("N requests/minute").
func NewTokenBucketPerMinute(requestsPerMinute int) *TokenBucket {
	return NewTokenBucket(float64(requestsPerMinute), float64(requestsPerMinute)/60.0)
}

// Allow consumes a token if one is immediately available, without blocking.
func (tb *TokenBucket) Allow() bool {
	return tb.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.limiter.Wait(ctx)
}
