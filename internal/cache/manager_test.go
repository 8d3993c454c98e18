package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubL2 struct {
	data map[string]string
}

func newStubL2() *stubL2 { return &stubL2{data: map[string]string{}} }

func (s *stubL2) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubL2) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.data[key] = value
	return nil
}

func TestManagerGetMiss(t *testing.T) {
	m := NewManager(newStubL2(), NewDiskStore(t.TempDir()), true, zaptest.NewLogger(t))
	_, tier, err := m.Get(context.Background(), "nope", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierMiss, tier)
}

func TestManagerSetThenGetHitsL1(t *testing.T) {
	m := NewManager(newStubL2(), NewDiskStore(t.TempDir()), true, zaptest.NewLogger(t))
	require.NoError(t, m.Set(context.Background(), "1.1.1.1", "payload", time.Hour))

	v, tier, err := m.Get(context.Background(), "1.1.1.1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierL1, tier)
	assert.Equal(t, "payload", v)
}

func TestManagerL2HitBackfillsL1(t *testing.T) {
	l2 := newStubL2()
	l2.data["pre-seeded"] = "value"
	m := NewManager(l2, NewDiskStore(t.TempDir()), true, zaptest.NewLogger(t))

	v, tier, err := m.Get(context.Background(), "pre-seeded", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierL2, tier)
	assert.Equal(t, "value", v)

	// second read should now be served from L1 without touching L2 again.
	delete(l2.data, "pre-seeded")
	v, tier, err = m.Get(context.Background(), "pre-seeded", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierL1, tier)
	assert.Equal(t, "value", v)
}

func TestManagerWithoutL1(t *testing.T) {
	l2 := newStubL2()
	m := NewManager(l2, nil, false, zaptest.NewLogger(t))

	require.NoError(t, m.Set(context.Background(), "k", "v", time.Hour))
	v, tier, err := m.Get(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierL2, tier)
	assert.Equal(t, "v", v)
}
