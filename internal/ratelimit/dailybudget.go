package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BudgetStore persists the daily counter so it survives process restarts.
// internal/db provides the SurrealDB-backed implementation used in
// production; tests use an in-memory stub.
type BudgetStore interface {
	LoadBudgetUsage(ctx context.Context, key string, day string) (int, error)
	SaveBudgetUsage(ctx context.Context, key string, day string, used int) error
}

// DailyBudget enforces a fixed quota that resets at UTC midnight, used to
// cap calls to rate-limited-by-quota sources like the scanner-intel API.
type DailyBudget struct {
	key    string
	limit  int
	store  BudgetStore
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	day     string
	used    int
	warned  bool
}

// NewDailyBudget constructs a DailyBudget for the given quota key (usually
// the source name) and daily limit.
func NewDailyBudget(key string, limit int, store BudgetStore, logger *zap.Logger) *DailyBudget {
	return &DailyBudget{
		key:    key,
		limit:  limit,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (b *DailyBudget) rolloverLocked(ctx context.Context) error {
	today := dayKey(b.now())
	if b.day == today {
		return nil
	}
	used, err := b.store.LoadBudgetUsage(ctx, b.key, today)
	if err != nil {
		return fmt.Errorf("ratelimit: load daily budget for %s/%s: %w", b.key, today, err)
	}
	b.day = today
	b.used = used
	b.warned = used*100 >= b.limit*90
	return nil
}

// Remaining reports how many calls are still permitted today.
func (b *DailyBudget) Remaining(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.rolloverLocked(ctx); err != nil {
		return 0, err
	}
	remaining := b.limit - b.used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume reserves one unit of budget. It returns false without consuming
// anything if the budget is already exhausted for today.
func (b *DailyBudget) Consume(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.rolloverLocked(ctx); err != nil {
		return false, err
	}
	if b.used >= b.limit {
		return false, nil
	}

	b.used++
	if err := b.store.SaveBudgetUsage(ctx, b.key, b.day, b.used); err != nil {
		b.used--
		return false, fmt.Errorf("ratelimit: save daily budget for %s/%s: %w", b.key, b.day, err)
	}

	if !b.warned && b.used*100 >= b.limit*90 {
		b.warned = true
		b.logger.Warn("daily budget nearing exhaustion",
			zap.String("key", b.key),
			zap.Int("used", b.used),
			zap.Int("limit", b.limit))
	}
	return true, nil
}
