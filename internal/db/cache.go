package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// L2Cache is the durable, keyed SurrealDB-backed cache tier. Entries carry
// an explicit TTL per source so the cascade can apply bulk-ASN's 90-day
// and scanner-intel's 7-day freshness windows.
type L2Cache struct {
	db     *surrealdb.DB
	logger *zap.Logger
}

func NewL2Cache(sdb *surrealdb.DB, logger *zap.Logger) *L2Cache {
	return &L2Cache{db: sdb, logger: logger}
}

// Get returns the raw cached value for key, or ("", false, nil) on a miss
// or expiry. It never returns an error for a simple miss.
func (c *L2Cache) Get(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT * FROM type::thing('cache_entry', $key) LIMIT 1;`
	result, err := surrealdb.Query[map[string]interface{}](ctx, c.db, query, map[string]interface{}{
		"key": cacheKey(key),
	})
	if err != nil {
		return "", false, fmt.Errorf("l2 cache get %q: %w", key, err)
	}
	if result == nil || len(*result) == 0 || (*result)[0].Result == nil {
		return "", false, nil
	}

	row := (*result)[0].Result
	expiresAt, err := parseTimeField(row, "expires_at")
	if err == nil && time.Now().UTC().After(expiresAt) {
		return "", false, nil
	}
	return getStringField(row, "value"), true, nil
}

// Set stores value under key with the given TTL.
func (c *L2Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
		UPSERT type::thing('cache_entry', $key) SET
			key = $raw_key,
			value = $value,
			expires_at = $expires_at;
	`
	_, err := surrealdb.Query[interface{}](ctx, c.db, query, map[string]interface{}{
		"key":        cacheKey(key),
		"raw_key":    key,
		"value":      value,
		"expires_at": time.Now().UTC().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("l2 cache set %q: %w", key, err)
	}
	return nil
}

// GetJSON/SetJSON are convenience wrappers for structured payloads.
func (c *L2Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("l2 cache decode %q: %w", key, err)
	}
	return true, nil
}

func (c *L2Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("l2 cache encode %q: %w", key, err)
	}
	return c.Set(ctx, key, string(b), ttl)
}

// LoadBudgetUsage and SaveBudgetUsage implement ratelimit.BudgetStore,
// persisting the scanner-intel daily quota counter across restarts.
func (c *L2Cache) LoadBudgetUsage(ctx context.Context, key string, day string) (int, error) {
	raw, ok, err := c.Get(ctx, fmt.Sprintf("budget:%s:%s", key, day))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var used int
	if err := json.Unmarshal([]byte(raw), &used); err != nil {
		return 0, fmt.Errorf("decode budget usage for %s/%s: %w", key, day, err)
	}
	return used, nil
}

func (c *L2Cache) SaveBudgetUsage(ctx context.Context, key string, day string, used int) error {
	b, err := json.Marshal(used)
	if err != nil {
		return err
	}
	// 48h TTL comfortably outlives the UTC day the counter belongs to.
	return c.Set(ctx, fmt.Sprintf("budget:%s:%s", key, day), string(b), 48*time.Hour)
}

func cacheKey(key string) string {
	out := make([]byte, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
