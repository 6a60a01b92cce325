package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirable_FreshValueIsNeitherStaleNorExpired(t *testing.T) {
	e := NewExpirable(42, time.Hour)

	assert.False(t, e.IsStale())
	assert.False(t, e.IsExpired())
	assert.False(t, e.Empty())
}

func TestExpirable_BecomesStaleAfterValidityWindow(t *testing.T) {
	e := NewExpirable(42, 100*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	assert.True(t, e.IsStale())
	assert.False(t, e.IsExpired())
}

func TestExpirable_BecomesExpiredAfter2xValidity(t *testing.T) {
	e := NewExpirable(42, -time.Hour)

	assert.True(t, e.IsStale())
	assert.True(t, e.IsExpired())
}

func TestExpirable_ZeroValueIsEmpty(t *testing.T) {
	var e Expirable[int]
	assert.True(t, e.Empty())
}

func TestExpirableCache_GetIfNotStale(t *testing.T) {
	c := NewExpirableCache[string, int](10)

	_, ok := c.GetIfNotStale("a")
	require.False(t, ok)

	c.Insert("a", 1, time.Hour)
	v, ok := c.GetIfNotStale("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestExpirableCache_GetIfNotExpiredServesStaleValue(t *testing.T) {
	c := NewExpirableCache[string, int](10)
	c.Insert("a", 1, 100*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	_, ok := c.GetIfNotStale("a")
	assert.False(t, ok)

	v, ok := c.GetIfNotExpired("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestExpirableCache_EvictsOldestBeyondCapacity(t *testing.T) {
	c := NewExpirableCache[string, int](2)

	c.Insert("a", 1, time.Hour)
	c.Insert("b", 2, time.Hour)
	c.Insert("c", 3, time.Hour)

	_, ok := c.GetIfNotExpired("a")
	assert.False(t, ok, "oldest key should have been evicted")

	_, ok = c.GetIfNotExpired("b")
	assert.True(t, ok)
	_, ok = c.GetIfNotExpired("c")
	assert.True(t, ok)
}

func TestExpirableCache_ReinsertDoesNotDuplicateOrder(t *testing.T) {
	c := NewExpirableCache[string, int](2)

	c.Insert("a", 1, time.Hour)
	c.Insert("a", 2, time.Hour)
	c.Insert("b", 3, time.Hour)

	v, ok := c.GetIfNotExpired("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}
