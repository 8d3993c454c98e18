// Package db is the SurrealDB-backed persistence layer: IP inventory, ASN
// inventory, the durable L2 cache tier, and batch-driver job tracking.
package db

import (
	"fmt"
	"time"
)

// Typed accessors over the map[string]interface{} rows surrealdb.Query[T]
// hands back. The driver decodes numbers inconsistently across transports
// (int, int64, or float64 depending on the value), so every numeric
// accessor coerces all three.

func getBoolField(data map[string]interface{}, key string) bool {
	b, _ := data[key].(bool)
	return b
}

func getStringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func getIntField(data map[string]interface{}, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func getFloatField(data map[string]interface{}, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// parseTimeField accepts both shapes SurrealDB datetimes arrive in: a
// decoded time.Time or an RFC 3339 string.
func parseTimeField(data map[string]interface{}, key string) (time.Time, error) {
	switch v := data[key].(type) {
	case time.Time:
		return v, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", key, err)
		}
		return parsed, nil
	case nil:
		return time.Time{}, fmt.Errorf("field %s not found", key)
	default:
		return time.Time{}, fmt.Errorf("field %s has unsupported time type %T", key, v)
	}
}
