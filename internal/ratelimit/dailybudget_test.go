package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memBudgetStore struct {
	mu   sync.Mutex
	used map[string]int
}

func newMemBudgetStore() *memBudgetStore {
	return &memBudgetStore{used: map[string]int{}}
}

func (s *memBudgetStore) LoadBudgetUsage(_ context.Context, key, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[key+"/"+day], nil
}

func (s *memBudgetStore) SaveBudgetUsage(_ context.Context, key, day string, used int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[key+"/"+day] = used
	return nil
}

func TestDailyBudgetConsumeUpToLimit(t *testing.T) {
	store := newMemBudgetStore()
	b := NewDailyBudget("greynoise", 3, store, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		ok, err := b.Consume(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := b.Consume(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDailyBudgetRemaining(t *testing.T) {
	store := newMemBudgetStore()
	b := NewDailyBudget("greynoise", 10, store, zaptest.NewLogger(t))

	remaining, err := b.Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)

	_, err = b.Consume(context.Background())
	require.NoError(t, err)

	remaining, err = b.Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
}

func TestDailyBudgetResetsAtMidnightUTC(t *testing.T) {
	store := newMemBudgetStore()
	b := NewDailyBudget("greynoise", 1, store, zaptest.NewLogger(t))

	day1 := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	b.now = func() time.Time { return day1 }
	ok, err := b.Consume(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Consume(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "limit reached for day 1")

	day2 := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	b.now = func() time.Time { return day2 }
	ok, err = b.Consume(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "budget should reset on the new UTC day")
}
