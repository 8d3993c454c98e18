package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStoreSetGet(t *testing.T) {
	store := NewDiskStore(t.TempDir())

	require.NoError(t, store.Set("1.2.3.4", `{"asn":64500}`, time.Hour))

	v, ok, err := store.Get("1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"asn":64500}`, v)
}

func TestDiskStoreMiss(t *testing.T) {
	store := NewDiskStore(t.TempDir())
	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStoreExpired(t *testing.T) {
	store := NewDiskStore(t.TempDir())
	require.NoError(t, store.Set("k", "v", -time.Second))

	_, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStoreShardsByHash(t *testing.T) {
	store := NewDiskStore(t.TempDir())
	p1 := store.path("1.1.1.1")
	p2 := store.path("8.8.8.8")
	assert.NotEqual(t, p1, p2)
}

func TestDiskStoreDirectoryPerSource(t *testing.T) {
	store := NewDiskStore("/cache")
	assert.Contains(t, store.path("cymru:1.1.1.1"), "/cache/cymru/")
	assert.Contains(t, store.path("greynoise:1.1.1.1"), "/cache/greynoise/")
}
