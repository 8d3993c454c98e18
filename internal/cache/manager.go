// Package cache implements the cascade's three-tier lookup cache: an
// optional in-memory L1, a durable keyed L2 (SurrealDB, see internal/db),
// and a sharded on-disk L3 used as a cold-start fallback.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tier identifies which layer satisfied a read, recorded into
// models.Meta.CacheHits for observability.
type Tier string

const (
	TierL1  Tier = "l1_memory"
	TierL2  Tier = "l2_durable"
	TierL3  Tier = "l3_disk"
	TierMiss Tier = "miss"
)

// L2 is the durable keyed tier; implemented by internal/db.L2Cache.
type L2 interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// L3 is the sharded on-disk tier; implemented by internal/cache.DiskStore.
type L3 interface {
	Get(key string) (string, bool, error)
	Set(key, value string, ttl time.Duration) error
}

// Manager composes the three tiers. L1 and L3 are optional: a nil l1
// disables the fast in-memory tier (e.g. for short-lived CLI invocations),
// and a nil l3 disables cold-start disk fallback.
type Manager struct {
	l1     *memoryTier
	l2     L2
	l3     L3
	logger *zap.Logger
}

// NewManager wires the three tiers. Pass enableL1=false to skip the
// in-memory tier for single-shot CLI runs where it would never pay off.
func NewManager(l2 L2, l3 L3, enableL1 bool, logger *zap.Logger) *Manager {
	m := &Manager{l2: l2, l3: l3, logger: logger}
	if enableL1 {
		m.l1 = newMemoryTier()
	}
	return m
}

// Get checks L1, then L2, then L3 in order, backfilling faster tiers on a
// slower-tier hit so subsequent lookups short-circuit.
func (m *Manager) Get(ctx context.Context, key string, ttl time.Duration) (string, Tier, error) {
	if m.l1 != nil {
		if v, ok := m.l1.get(key); ok {
			return v, TierL1, nil
		}
	}

	if m.l2 != nil {
		v, ok, err := m.l2.Get(ctx, key)
		if err != nil {
			m.logger.Warn("l2 cache read failed, falling through", zap.String("key", key), zap.Error(err))
		} else if ok {
			if m.l1 != nil {
				m.l1.set(key, v, ttl)
			}
			return v, TierL2, nil
		}
	}

	if m.l3 != nil {
		v, ok, err := m.l3.Get(key)
		if err != nil {
			m.logger.Warn("l3 cache read failed, falling through", zap.String("key", key), zap.Error(err))
		} else if ok {
			if m.l1 != nil {
				m.l1.set(key, v, ttl)
			}
			if m.l2 != nil {
				if err := m.l2.Set(ctx, key, v, ttl); err != nil {
					m.logger.Warn("l3->l2 backfill failed", zap.String("key", key), zap.Error(err))
				}
			}
			return v, TierL3, nil
		}
	}

	return "", TierMiss, nil
}

// Set writes through every enabled tier.
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.l1 != nil {
		m.l1.set(key, value, ttl)
	}
	if m.l2 != nil {
		if err := m.l2.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	if m.l3 != nil {
		if err := m.l3.Set(key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}
