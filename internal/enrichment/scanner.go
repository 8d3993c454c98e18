package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelnet/cascade/internal/cache"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/kestrelnet/cascade/internal/ratelimit"
	"github.com/kestrelnet/cascade/internal/secrets"
	"go.uber.org/zap"
)

const (
	scannerBaseURL    = "https://api.greynoise.io/v3/community"
	scannerCacheTTL   = 7 * 24 * time.Hour
	scannerMaxRetryAfter = 60 * time.Second
	scannerRequestTimeout = 10 * time.Second
)

// Skip/failure reason tags recorded into models.Meta by the orchestrator.
const (
	SkipDailyBudgetExhausted = "daily_budget_exhausted"
	SkipNoAPIKey             = "no_api_key"
	SkipLowActivityFilter    = "low_activity_filter"
	SkipBackfillMode         = "backfill_mode"

	FailureRateLimited  = "rate_limited"
	FailureUpstreamError = "upstream_error"
	FailureNetworkError = "network_error"
)

// ScannerOutcome distinguishes a successful lookup from a cache hit, a
// skip (never attempted), and a failure (attempted and gave up), each of
// which the orchestrator records differently in models.Meta.
type ScannerOutcome struct {
	Record        *models.GreyNoiseRecord
	CacheHit      bool
	CacheTier     cache.Tier
	SkipReason    string
	FailureReason string
}

// ScannerSource is the GreyNoise-style scanner-intel source: a cache-first,
// budget-and-rate-limited HTTP lookup with 429/5xx retry policies, gated
// upstream by an activity filter the orchestrator applies before calling
// Lookup.
type ScannerSource struct {
	httpClient *http.Client
	cache      *cache.Manager
	budget     *ratelimit.DailyBudget
	limiter    *ratelimit.TokenBucket
	apiKeyRef  string
	resolver   *secrets.Resolver
	logger     *zap.Logger

	resolvedKey string
	testBaseURL string // overrides scannerBaseURL in tests
}

func (s *ScannerSource) baseURL() string {
	if s.testBaseURL != "" {
		return s.testBaseURL
	}
	return scannerBaseURL
}

// NewScannerSource wires the cache, budget, and rate limiter that gate
// calls to the scanner-intel API. apiKeyRef is an unresolved secrets
// reference (e.g. "env:GREYNOISE_API_KEY"); an empty ref permanently skips
// the source with reason no_api_key.
func NewScannerSource(mgr *cache.Manager, budget *ratelimit.DailyBudget, limiter *ratelimit.TokenBucket, resolver *secrets.Resolver, apiKeyRef string, logger *zap.Logger) *ScannerSource {
	return &ScannerSource{
		httpClient: &http.Client{Timeout: scannerRequestTimeout},
		cache:      mgr,
		budget:     budget,
		limiter:    limiter,
		apiKeyRef:  apiKeyRef,
		resolver:   resolver,
		logger:     logger,
	}
}

// Lookup resolves scanner-intel for a single address, applying the cache,
// the daily budget, and the per-source rate limiter in that order. The
// caller (the cascade orchestrator) is responsible for the activity filter
// and for passing SkipLowActivityFilter/SkipBackfillMode without calling
// Lookup at all.
func (s *ScannerSource) Lookup(ctx context.Context, ip string) (*ScannerOutcome, error) {
	if s.apiKeyRef == "" {
		return &ScannerOutcome{SkipReason: SkipNoAPIKey}, nil
	}

	cacheKey := "greynoise:" + ip
	if s.cache != nil {
		if raw, tier, err := s.cache.Get(ctx, cacheKey, scannerCacheTTL); err == nil && tier != cache.TierMiss {
			var rec models.GreyNoiseRecord
			if err := json.Unmarshal([]byte(raw), &rec); err == nil {
				return &ScannerOutcome{Record: &rec, CacheHit: true, CacheTier: tier}, nil
			}
		}
	}

	allowed, err := s.budget.Consume(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: consume daily budget: %w", err)
	}
	if !allowed {
		return &ScannerOutcome{SkipReason: SkipDailyBudgetExhausted}, nil
	}

	if s.resolvedKey == "" {
		key, err := s.resolver.Resolve(ctx, s.apiKeyRef)
		if err != nil {
			s.logger.Warn("scanner: api key resolution failed, treating as absent", zap.Error(err))
			return &ScannerOutcome{SkipReason: SkipNoAPIKey}, nil
		}
		s.resolvedKey = key
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("scanner: rate limiter wait: %w", err)
	}

	rec, failureReason, err := s.fetch(ctx, ip)
	if err != nil {
		return nil, err
	}
	if failureReason != "" {
		return &ScannerOutcome{FailureReason: failureReason}, nil
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(rec); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(encoded), scannerCacheTTL); err != nil {
				s.logger.Warn("scanner: cache write failed", zap.String("ip", ip), zap.Error(err))
			}
		}
	}

	return &ScannerOutcome{Record: rec}, nil
}

// fetch performs the HTTP call: one retry after a 429 honoring a clamped
// Retry-After, exponential backoff on 5xx, and a terminal failure reason
// once retries are spent.
func (s *ScannerSource) fetch(ctx context.Context, ip string) (*models.GreyNoiseRecord, string, error) {
	retried429 := false
	backoff := 500 * time.Millisecond

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL()+"/"+ip, nil)
		if err != nil {
			return nil, "", fmt.Errorf("scanner: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.resolvedKey)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, FailureNetworkError, nil
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			defer resp.Body.Close()
			var body struct {
				Noise          bool   `json:"noise"`
				Classification string `json:"classification"`
				Name           string `json:"name"`
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, "", fmt.Errorf("scanner: read response body: %w", err)
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, "", fmt.Errorf("scanner: decode response: %w", err)
			}
			var vendorFields map[string]interface{}
			json.Unmarshal(raw, &vendorFields)
			return &models.GreyNoiseRecord{
				Noise:          body.Noise,
				Classification: body.Classification,
				Name:           body.Name,
				Raw:            vendorFields,
			}, "", nil

		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			if retried429 {
				return nil, FailureRateLimited, nil
			}
			retried429 = true
			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			if wait > scannerMaxRetryAfter {
				wait = scannerMaxRetryAfter
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, "", err
			}
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt >= 2 {
				return nil, FailureUpstreamError, nil
			}
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, "", err
			}
			backoff *= 2
			continue

		default:
			resp.Body.Close()
			return nil, FailureUpstreamError, nil
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 1 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 1 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
