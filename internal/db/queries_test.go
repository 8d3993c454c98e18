package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetStringField(t *testing.T) {
	data := map[string]interface{}{"ip": "1.2.3.4", "other": 5}
	assert.Equal(t, "1.2.3.4", getStringField(data, "ip"))
	assert.Equal(t, "", getStringField(data, "missing"))
	assert.Equal(t, "", getStringField(data, "other"))
}

func TestGetIntField(t *testing.T) {
	data := map[string]interface{}{"a": 5, "b": int64(7), "c": float64(9), "d": "nope"}

	v, ok := getIntField(data, "a")
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	v, ok = getIntField(data, "b")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	v, ok = getIntField(data, "c")
	assert.True(t, ok)
	assert.Equal(t, 9, v)

	_, ok = getIntField(data, "d")
	assert.False(t, ok)
}

func TestGetFloatField(t *testing.T) {
	data := map[string]interface{}{"lat": float64(12.5), "count": 3}

	v, ok := getFloatField(data, "lat")
	assert.True(t, ok)
	assert.InDelta(t, 12.5, v, 0.001)

	v, ok = getFloatField(data, "count")
	assert.True(t, ok)
	assert.InDelta(t, 3.0, v, 0.001)
}

func TestParseTimeField(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	data := map[string]interface{}{
		"t1": now,
		"t2": now.Format(time.RFC3339),
		"t3": 5,
	}

	v, err := parseTimeField(data, "t1")
	assert.NoError(t, err)
	assert.True(t, v.Equal(now))

	v, err = parseTimeField(data, "t2")
	assert.NoError(t, err)
	assert.True(t, v.Equal(now))

	_, err = parseTimeField(data, "t3")
	assert.Error(t, err)

	_, err = parseTimeField(data, "missing")
	assert.Error(t, err)
}
